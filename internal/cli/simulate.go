package cli

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"gold-alert-engine/internal/app"
	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/rules"
)

var (
	simulateAsset     string
	simulateCurrency  string
	simulateRule      string
	simulateThreshold float64
	simulateKarat     int
	simulatePrices    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一串行情并观察规则触发情况",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrices == "" {
			return errors.New("--prices 不能为空")
		}

		currency, err := market.ParseCurrency(simulateCurrency)
		if err != nil {
			return err
		}
		ruleType, err := rules.ParseRuleType(simulateRule)
		if err != nil {
			return err
		}

		var prices []decimal.Decimal
		for _, raw := range strings.Split(simulatePrices, ",") {
			price, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil {
				return errors.New("--prices 必须是逗号分隔的数字序列")
			}
			prices = append(prices, price)
		}

		opts := app.SimulateOptions{
			Asset:     simulateAsset,
			Currency:  currency,
			Rule:      ruleType,
			Threshold: decimal.NewFromFloat(simulateThreshold),
			Karat:     simulateKarat,
			Prices:    prices,
		}

		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "XAU", "Asset symbol")
	simulateCmd.Flags().StringVar(&simulateCurrency, "currency", "USD", "Alert currency")
	simulateCmd.Flags().StringVar(&simulateRule, "rule", "price_above", "Rule type (price_above, price_below, trend_up, trend_down)")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "Threshold price (ignored for trend rules)")
	simulateCmd.Flags().IntVar(&simulateKarat, "karat", 0, "Karat purity, 0 means 24k spot")
	simulateCmd.Flags().StringVar(&simulatePrices, "prices", "", "Comma separated price series")
}
