package cli

import (
	"github.com/spf13/cobra"

	"stage2-screener/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the screening service on its schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var (
	scanDryRun bool
	scanTop    int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan cycle now and print the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scan(cmd.Context(), app.ScanOptions{DryRun: scanDryRun, Limit: scanTop})
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <ticker>",
	Short: "Show every indicator behind one ticker's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Analyze(cmd.Context(), args[0])
	},
}

var testAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Send a test message through the configured notifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TestAlert(cmd.Context())
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or clear the buy-alert ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickers that already alerted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().LedgerList(cmd.Context())
	},
}

var ledgerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget every alerted ticker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().LedgerReset(cmd.Context())
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Log alerts instead of sending them and skip persistence")
	scanCmd.Flags().IntVar(&scanTop, "top", 0, "Print only the first N results")

	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerResetCmd)
}
