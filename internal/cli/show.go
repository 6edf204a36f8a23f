package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"utility-balance-alerts/internal/app"
)

var historyDays int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display scheduler, delivery and retry queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowStatus(cmd.Context())
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display delivered notifications per day",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}
		return getApp().ShowHistory(cmd.Context(), app.HistoryOptions{Days: historyDays})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget delivered notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ClearHistory(cmd.Context())
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyDays, "days", 7, "Number of days to display")
	historyCmd.AddCommand(exportCmd)
	historyCmd.AddCommand(historyClearCmd)
}
