package cli

import (
	"github.com/spf13/cobra"

	"stage2-screener/internal/app"
)

var (
	exportCSVPath string
	exportJSON    string
	exportMaxRows int
	chartPNGPath  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export persisted results as CSV and/or JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			CSVPath:  exportCSVPath,
			JSONPath: exportJSON,
			MaxRows:  exportMaxRows,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

var chartCmd = &cobra.Command{
	Use:   "chart <ticker>",
	Short: "Render price, moving averages and pivot of a ticker as PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Chart(cmd.Context(), app.ChartOptions{Ticker: args[0], PNGPath: chartPNGPath})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportJSON, "json", "", "Path to write JSON data")
	exportCmd.Flags().IntVar(&exportMaxRows, "max-rows", 0, "Maximum rows to export (defaults to config)")

	chartCmd.Flags().StringVar(&chartPNGPath, "png", "", "Path to write the PNG chart (default data/<ticker>.png)")
}
