package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateNAV   string
	simulatePrice string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次 NAV/价格差值并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateNAV == "" || simulatePrice == "" {
			return errors.New("--nav 与 --price 必须提供")
		}

		nav, err := decimal.NewFromString(simulateNAV)
		if err != nil {
			return errors.New("--nav 不是合法数字")
		}
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return errors.New("--price 不是合法数字")
		}
		return getApp().SimulateAlert(cmd.Context(), nav, price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateNAV, "nav", "", "模拟的 NAV")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "模拟的市场价格")
}
