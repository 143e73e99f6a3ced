package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetAlertID int64

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Re-arm a triggered alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetAlertID <= 0 {
			return fmt.Errorf("--alert-id must be provided")
		}
		return getApp().Reset(cmd.Context(), resetAlertID)
	},
}

func init() {
	resetCmd.Flags().Int64Var(&resetAlertID, "alert-id", 0, "ID of the alert to re-arm")
}
