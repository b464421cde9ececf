package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"market-sentinel/internal/app"
)

var (
	showLimit     int
	showStateOnly bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display signal state and recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().Show(cmd.Context(), app.ShowOptions{
			Limit:     showLimit,
			StateOnly: showStateOnly,
		})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of alerts to display")
	showCmd.Flags().BoolVar(&showStateOnly, "state-only", false, "Skip the alert history query")
}
