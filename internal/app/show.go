package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints engine progress and unresolved failures.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	last, err := store.MaxSnapshotHeight(ctx)
	if err != nil {
		return err
	}
	count, err := store.CountSnapshots(ctx)
	if err != nil {
		return err
	}

	if last == nil {
		fmt.Fprintln(os.Stdout, "no snapshots taken yet")
	} else {
		fmt.Fprintf(os.Stdout, "last snapshot block: %d, rows stored: %d\n", *last, count)
	}

	failures, err := store.UnresolvedFailures(ctx)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		fmt.Fprintln(os.Stdout, "no unresolved failures")
		return nil
	}

	if opts.Limit > 0 && len(failures) > opts.Limit {
		failures = failures[:opts.Limit]
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Block\tTime (UTC)\tUser\tMessage")

	for _, failure := range failures {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\n",
			failure.BlockHeight,
			time.Unix(failure.BlockTimestamp, 0).UTC().Format(time.RFC3339),
			failure.User,
			sanitizeInline(failure.Message),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
