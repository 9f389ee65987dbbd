package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"molend-points/internal/storage"
)

// Export renders per-round point totals as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	totals, err := store.RoundTotals(ctx)
	if err != nil {
		return err
	}
	if len(totals) == 0 {
		a.Logger.Info().Msg("no snapshot rounds found for export")
		return nil
	}

	a.Logger.Info().Int("rounds", len(totals)).Msg("exporting round totals")

	if opts.CSVPath != "" {
		if err := writeRoundTotalsCSV(opts.CSVPath, totals); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRoundTotalsPNG(opts.PNGPath, totals); err != nil {
			return err
		}
	}

	return nil
}

func writeRoundTotalsCSV(path string, totals []storage.RoundTotal) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"block_height", "block_time", "total_points"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, total := range totals {
		record := []string{
			strconv.FormatUint(total.BlockHeight, 10),
			time.Unix(total.BlockTimestamp, 0).UTC().Format(time.RFC3339),
			total.Total.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRoundTotalsPNG(path string, totals []storage.RoundTotal) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(totals))
	y := make([]float64, len(totals))
	for i, total := range totals {
		x[i] = time.Unix(total.BlockTimestamp, 0).UTC()
		y[i] = total.Total.InexactFloat64()
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Points per round",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Round total",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
