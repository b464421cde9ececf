package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"market-sentinel/internal/app"
)

var (
	simulateSymbol  string
	simulatePrice   string
	simulateAverage string
	simulatePrior   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次 SMA 读数并走完整的告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice == "" || simulateAverage == "" {
			return errors.New("--price 与 --sma 必须提供")
		}

		outcome, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Symbol:  simulateSymbol,
			Price:   simulatePrice,
			Average: simulateAverage,
			Prior:   simulatePrior,
		})
		if outcome != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "outcome: %s\n", outcome)
		}
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "SPY", "标的代码")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "当前价格")
	simulateCmd.Flags().StringVar(&simulateAverage, "sma", "", "200 日均线")
	simulateCmd.Flags().StringVar(&simulatePrior, "prior", "", "预置的上一状态 (BELOW_SMA 或 ABOVE_SMA)")
}
