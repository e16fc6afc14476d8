package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stage2-screener/internal/app"
)

var (
	showLimit  int
	showStatus string
	showRuns   bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the latest persisted scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Status: showStatus,
			Runs:   showRuns,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "rows", 50, "Number of rows to display (0 = all)")
	showCmd.Flags().StringVar(&showStatus, "status", "", "Only show results with this status")
	showCmd.Flags().BoolVar(&showRuns, "runs", false, "List recent scan runs instead of results")
}
