package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"utility-balance-alerts/internal/model"
)

// ExportOptions hold parameters for exporting notification history.
type ExportOptions struct {
	Days    int
	CSVPath string
}

// Export writes delivered notifications of the last Days days as CSV.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" {
		return errors.New("--csv must be provided")
	}
	if opts.Days <= 0 {
		opts.Days = a.Config.History.RetentionDays
	}

	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	summaries := rt.history.History(ctx, opts.Days)
	rows := 0
	for _, summary := range summaries {
		rows += len(summary.Notifications)
	}
	if rows == 0 {
		a.Logger.Info().Int("days", opts.Days).Msg("no notifications found for export window")
		return nil
	}

	if err := writeHistoryCSV(opts.CSVPath, summaries); err != nil {
		return fmt.Errorf("export history: %w", err)
	}
	a.Logger.Info().Int("rows", rows).Str("path", opts.CSVPath).Msg("history exported")
	return nil
}

func writeHistoryCSV(path string, summaries []model.DailySummary) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "id", "account_no", "type", "balance", "threshold", "timestamp", "last_check_time"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, summary := range summaries {
		lastCheck := ""
		if summary.LastCheckTime != nil {
			lastCheck = summary.LastCheckTime.Format(time.RFC3339)
		}
		for _, record := range summary.Notifications {
			row := []string{
				summary.Date,
				record.ID,
				record.AccountNo,
				string(record.Type),
				formatAmount(record.Balance),
				formatAmount(record.Threshold),
				record.Timestamp.Format(time.RFC3339),
				lastCheck,
			}
			if err := writer.Write(row); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatAmount(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}
