package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"molend-points/internal/app"
)

var (
	snapshotHeight uint64
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take a single snapshot round at an explicit block height",
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotHeight == 0 {
			return fmt.Errorf("--height must be greater than zero")
		}

		opts := app.SnapshotOptions{
			Height: snapshotHeight,
		}

		return getApp().SnapshotOnce(cmd.Context(), opts)
	},
}

func init() {
	snapshotCmd.Flags().Uint64Var(&snapshotHeight, "height", 0, "Block height to snapshot at")
}
