package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"utility-balance-alerts/internal/app"
)

var (
	simulateAccount     string
	simulateBalance     string
	simulateUnavailable bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次余额巡检并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Account:     simulateAccount,
			Unavailable: simulateUnavailable,
		}
		if !simulateUnavailable {
			if simulateBalance == "" {
				return errors.New("--balance 或 --unavailable 必须指定一个")
			}
			balance, err := decimal.NewFromString(simulateBalance)
			if err != nil {
				return err
			}
			opts.Balance = balance
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAccount, "account", "", "只模拟该账户（默认使用配置中的全部账户）")
	simulateCmd.Flags().StringVar(&simulateBalance, "balance", "", "所有账户返回的余额")
	simulateCmd.Flags().BoolVar(&simulateUnavailable, "unavailable", false, "模拟余额数据不可用")
}
