package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gold-alert-engine/internal/app"
)

var (
	seedCSVPath string
	seedDryRun  bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load historical price samples from a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedCSVPath == "" {
			return fmt.Errorf("--csv must be provided")
		}

		opts := app.SeedOptions{
			CSVPath: seedCSVPath,
			DryRun:  seedDryRun,
		}

		return getApp().Seed(cmd.Context(), opts)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedCSVPath, "csv", "", "Path to CSV file (timestamp,asset,currency,price[,price_usd])")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Parse the file without writing to storage")
}
