package cli

import (
	"github.com/spf13/cobra"
)

var runMetricsAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled evaluation and digest jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if runMetricsAddr != "" {
			a.Config.Metrics.Addr = runMetricsAddr
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve /metrics on this address (overrides metrics.addr)")
}
