package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"utility-balance-alerts/internal/clock"
	"utility-balance-alerts/internal/model"
	"utility-balance-alerts/internal/scheduler"
	"utility-balance-alerts/internal/settings"
)

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Days int
}

// ShowSettings prints the effective settings.
func (a *App) ShowSettings(ctx context.Context) error {
	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	a.printSettings(rt.settings.Get(ctx))
	return nil
}

func (a *App) printSettings(current settings.Settings) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "enabled\t%t\n", current.Enabled)
	fmt.Fprintf(writer, "low_balance_threshold\t%s\n", current.LowBalanceThreshold.StringFixed(2))
	fmt.Fprintf(writer, "notification_time\t%s (%s)\n", current.NotificationTime, clock.Zone.String())
	last := current.LastNotificationDate
	if last == "" {
		last = "-"
	}
	fmt.Fprintf(writer, "last_notification_date\t%s\n", last)
	writer.Flush()
}

// ShowStatus prints a snapshot of scheduler, delivery and queue state.
func (a *App) ShowStatus(ctx context.Context) error {
	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	status := rt.service.Status(ctx)
	status.Accounts = len(rt.accounts)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "enabled\t%t\n", status.Settings.Enabled)
	fmt.Fprintf(writer, "surface\t%s (%s)\n", rt.surface.Name(), status.Permission)
	fmt.Fprintf(writer, "online\t%t\n", status.Online)
	fmt.Fprintf(writer, "accounts\t%d\n", status.Accounts)
	fmt.Fprintf(writer, "next_check\t%s\n", formatTime(scheduler.NextRun(a.Clock.Now(), status.Settings.TimeOfDay())))
	fmt.Fprintf(writer, "checked_today\t%t\n", status.CheckedToday)
	if status.LastCheckTime != nil {
		fmt.Fprintf(writer, "last_check\t%s\n", formatTime(*status.LastCheckTime))
	}
	fmt.Fprintf(writer, "notified_today\t%d %s\n", status.TodaysNotifications, listSuffix(status.AccountsNotifiedToday))
	fmt.Fprintf(writer, "pending_retries\t%d\n", status.PendingRetries)
	writer.Flush()

	if len(status.RecentErrors) > 0 {
		fmt.Fprintln(a.Out, "\nrecent errors:")
		a.printErrors(status.RecentErrors)
	}
	return nil
}

// ShowHistory prints per-day summaries, oldest first.
func (a *App) ShowHistory(ctx context.Context, opts HistoryOptions) error {
	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	summaries := rt.history.History(ctx, opts.Days)
	if len(summaries) == 0 {
		fmt.Fprintln(a.Out, "no notification history")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tLast check\tAccount\tType\tBalance\tThreshold\tSent at")
	for _, summary := range summaries {
		lastCheck := "-"
		if summary.LastCheckTime != nil {
			lastCheck = summary.LastCheckTime.In(clock.Zone).Format("15:04")
		}
		if len(summary.Notifications) == 0 {
			fmt.Fprintf(writer, "%s\t%s\t-\t-\t-\t-\t-\n", summary.Date, lastCheck)
			continue
		}
		for _, record := range summary.Notifications {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				summary.Date,
				lastCheck,
				record.AccountNo,
				record.Type,
				formatAmount(record.Balance),
				formatAmount(record.Threshold),
				record.Timestamp.In(clock.Zone).Format("15:04:05"),
			)
		}
	}
	writer.Flush()
	return nil
}

// ShowQueue prints pending retries and the error log.
func (a *App) ShowQueue(ctx context.Context) error {
	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	pending := rt.queue.Pending(ctx)
	if len(pending) == 0 {
		fmt.Fprintln(a.Out, "retry queue is empty")
	} else {
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Queued at\tAccount\tType\tRetries\tMessage")
		for _, item := range pending {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%d/%d\t%s\n",
				formatTime(item.Timestamp),
				item.AccountNo,
				item.Type,
				item.RetryCount,
				item.MaxRetries,
				sanitizeInline(item.Message),
			)
		}
		writer.Flush()
	}

	entries := rt.queue.Errors(ctx)
	if len(entries) > 0 {
		fmt.Fprintln(a.Out, "\nerror log:")
		a.printErrors(entries)
	}
	return nil
}

func (a *App) printErrors(entries []model.ErrorEntry) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time\tType\tAccount\tMessage")
	for _, entry := range entries {
		account := entry.AccountNo
		if account == "" {
			account = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", formatTime(entry.Timestamp), entry.Type, account, sanitizeInline(entry.Message))
	}
	writer.Flush()
}

func formatTime(t time.Time) string {
	return t.In(clock.Zone).Format("2006-01-02 15:04")
}

func listSuffix(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return "(" + strings.Join(values, ", ") + ")"
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
