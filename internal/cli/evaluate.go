package cli

import (
	"github.com/spf13/cobra"

	"market-sentinel/internal/app"
)

var evaluateSymbols []string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one evaluation cycle now and print the outcome per signal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Evaluate(cmd.Context(), app.EvaluateOptions{Symbols: evaluateSymbols})
	},
}

func init() {
	evaluateCmd.Flags().StringSliceVar(&evaluateSymbols, "symbol", nil, "Restrict the cycle to these symbols (repeatable)")
}
