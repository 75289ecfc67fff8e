package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	evaluateSymbol string
	evaluatePrice  string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "以给定价格执行一次告警评估",
	RunE: func(cmd *cobra.Command, args []string) error {
		if evaluateSymbol == "" || evaluatePrice == "" {
			return errors.New("--symbol 与 --price 必须提供")
		}
		price, err := decimal.NewFromString(evaluatePrice)
		if err != nil {
			return errors.New("--price 不是合法数字")
		}
		_, err = getApp().EvaluateAlerts(cmd.Context(), evaluateSymbol, price)
		return err
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateSymbol, "symbol", "", "Token symbol")
	evaluateCmd.Flags().StringVar(&evaluatePrice, "price", "", "当前价格 (USD)")
}
