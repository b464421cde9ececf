package cli

import (
	"github.com/spf13/cobra"

	"market-sentinel/internal/app"
)

var (
	chartSymbol    string
	chartWindow    int
	chartPNGPath   string
	chartCSVPath   string
	chartMaxPoints int
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Export a daily series with its moving average as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Chart(cmd.Context(), app.ChartOptions{
			Symbol:    chartSymbol,
			Window:    chartWindow,
			PNGPath:   chartPNGPath,
			CSVPath:   chartCSVPath,
			MaxPoints: chartMaxPoints,
		})
	},
}

func init() {
	chartCmd.Flags().StringVar(&chartSymbol, "symbol", "SPY", "Instrument symbol")
	chartCmd.Flags().IntVar(&chartWindow, "window", 200, "Moving average window in days")
	chartCmd.Flags().StringVar(&chartPNGPath, "png", "", "Path to write PNG chart")
	chartCmd.Flags().StringVar(&chartCSVPath, "csv", "", "Path to write CSV data")
	chartCmd.Flags().IntVar(&chartMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
