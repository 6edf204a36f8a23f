package cli

import (
	"github.com/spf13/cobra"

	"utility-balance-alerts/internal/app"
)

var (
	exportDays    int
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export delivered notifications as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			Days:    exportDays,
			CSVPath: exportCSVPath,
		})
	},
}

func init() {
	exportCmd.Flags().IntVar(&exportDays, "days", 0, "Number of days to export (defaults to the retention window)")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
}
