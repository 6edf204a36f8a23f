package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"utility-balance-alerts/internal/scheduler"
	"utility-balance-alerts/internal/settings"
)

// ErrDisabled is returned by Check when notifications have not been enabled.
var ErrDisabled = errors.New("notifications are disabled; run `balancewatch enable` first")

// SettingsOptions carry the CLI's partial settings update.
type SettingsOptions struct {
	Threshold *string
	Time      *string
	Enabled   *bool
}

// withService opens a runtime, attaches the accounts and runs fn against it.
// No scheduler loop or queue drain runs in the background of a one-shot command.
func (a *App) withService(ctx context.Context, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	rt.service.Attach(rt.accounts)
	return fn(ctx, rt)
}

// Check runs one monitoring pass immediately and prints the outcome.
func (a *App) Check(ctx context.Context) error {
	return a.withService(ctx, func(ctx context.Context, rt *runtime) error {
		if !rt.settings.Get(ctx).Enabled {
			return ErrDisabled
		}
		errorsBefore := len(rt.queue.Errors(ctx))
		pendingBefore := len(rt.queue.Pending(ctx))

		if err := rt.service.ForceCheck(ctx); err != nil {
			return err
		}

		status := rt.service.Status(ctx)
		fmt.Fprintf(a.Out, "accounts: %d\n", status.Accounts)
		fmt.Fprintf(a.Out, "notified today: %d\n", status.TodaysNotifications)
		fmt.Fprintf(a.Out, "new errors: %d\n", max(0, len(rt.queue.Errors(ctx))-errorsBefore))
		fmt.Fprintf(a.Out, "queued for retry: %d\n", max(0, status.PendingRetries-pendingBefore))
		return nil
	})
}

// Enable turns notifications on.
func (a *App) Enable(ctx context.Context) error {
	return a.withService(ctx, func(ctx context.Context, rt *runtime) error {
		if err := rt.service.EnableNotifications(ctx); err != nil {
			return err
		}
		next := scheduler.NextRun(a.Clock.Now(), rt.settings.Get(ctx).TimeOfDay())
		fmt.Fprintf(a.Out, "notifications enabled via %s; next check at %s\n",
			rt.surface.Name(), next.Format("2006-01-02 15:04 MST"))
		return nil
	})
}

// Disable turns notifications off.
func (a *App) Disable(ctx context.Context) error {
	return a.withService(ctx, func(ctx context.Context, rt *runtime) error {
		if err := rt.service.DisableNotifications(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.Out, "notifications disabled")
		return nil
	})
}

// UpdateSettings applies a partial settings change.
func (a *App) UpdateSettings(ctx context.Context, opts SettingsOptions) error {
	update := settings.Update{
		NotificationTime: opts.Time,
		Enabled:          opts.Enabled,
	}
	if opts.Threshold != nil {
		threshold, err := decimal.NewFromString(*opts.Threshold)
		if err != nil {
			return fmt.Errorf("invalid threshold %q: %w", *opts.Threshold, err)
		}
		update.LowBalanceThreshold = &threshold
	}
	if update.NotificationTime == nil && update.Enabled == nil && update.LowBalanceThreshold == nil {
		return errors.New("nothing to update; pass --threshold, --time or --enabled")
	}

	return a.withService(ctx, func(ctx context.Context, rt *runtime) error {
		updated, err := rt.service.UpdateSettings(ctx, update)
		if err != nil {
			return err
		}
		a.printSettings(updated)
		return nil
	})
}

// TestNotification sends a one-off message through the configured surface.
func (a *App) TestNotification(ctx context.Context) error {
	return a.withService(ctx, func(ctx context.Context, rt *runtime) error {
		if err := rt.service.SendTestNotification(ctx); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "test notification delivered via %s\n", rt.surface.Name())
		return nil
	})
}

// ProcessQueue drains the retry queue once.
func (a *App) ProcessQueue(ctx context.Context) error {
	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	report := rt.queue.ProcessQueue(ctx)
	fmt.Fprintf(a.Out, "attempted: %d delivered: %d dropped: %d remaining: %d\n",
		report.Attempted, report.Delivered, report.Dropped, report.Remaining)
	return nil
}

// ClearErrors empties the diagnostic error log.
func (a *App) ClearErrors(ctx context.Context) error {
	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	rt.queue.ClearErrors(ctx)
	fmt.Fprintln(a.Out, "error log cleared")
	return nil
}

// ClearQueue drops every pending retry.
func (a *App) ClearQueue(ctx context.Context) error {
	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	dropped := len(rt.queue.Pending(ctx))
	rt.queue.ClearQueue(ctx)
	fmt.Fprintf(a.Out, "retry queue cleared (%d dropped)\n", dropped)
	return nil
}

// ClearHistory forgets every delivered notification, re-arming today's alerts.
func (a *App) ClearHistory(ctx context.Context) error {
	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	rt.history.Clear(ctx)
	fmt.Fprintln(a.Out, "notification history cleared")
	return nil
}

// ResetSettings 删除已保存的设置，恢复配置文件中的默认值。
func (a *App) ResetSettings(ctx context.Context) error {
	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	rt.settings.Reset(ctx)
	a.printSettings(rt.settings.Get(ctx))
	return nil
}
