package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"utility-balance-alerts/internal/alerting"
	"utility-balance-alerts/internal/clock"
	"utility-balance-alerts/internal/connectivity"
	"utility-balance-alerts/internal/fetcher"
	"utility-balance-alerts/internal/history"
	"utility-balance-alerts/internal/model"
	"utility-balance-alerts/internal/settings"
)

var (
	// ErrDisabled is reported when a pass is requested while notifications are off.
	ErrDisabled = errors.New("monitor: notifications disabled")
	// ErrNotPermitted is reported when the delivery surface is not granted.
	ErrNotPermitted = errors.New("monitor: notification permission not granted")
)

// Options pace the monitoring pass.
type Options struct {
	AccountDelay time.Duration
	FetchTimeout time.Duration
}

// Monitor evaluates accounts and delivers the resulting alerts.
type Monitor struct {
	settings *settings.Store
	history  *history.Store
	surface  alerting.Surface
	signal   connectivity.Signal
	fetcher  fetcher.BalanceFetcher
	clock    clock.Clock
	opts     Options
	logger   zerolog.Logger
}

// New constructs a Monitor.
func New(settingsStore *settings.Store, historyStore *history.Store, surface alerting.Surface, signal connectivity.Signal, balances fetcher.BalanceFetcher, clk clock.Clock, opts Options, logger zerolog.Logger) *Monitor {
	if clk == nil {
		clk = clock.System{}
	}
	if opts.AccountDelay < 0 {
		opts.AccountDelay = 0
	}
	return &Monitor{
		settings: settingsStore,
		history:  historyStore,
		surface:  surface,
		signal:   signal,
		fetcher:  balances,
		clock:    clk,
		opts:     opts,
		logger:   logger.With().Str("component", "monitor").Logger(),
	}
}

// CheckAllAccounts runs one sequential monitoring pass.
//
// Fetch failures are recorded per account and never abort the pass. The
// returned error is non-nil only when ctx ends mid-pass; the day's check is
// then left unmarked.
func (m *Monitor) CheckAllAccounts(ctx context.Context, accounts []model.Account) (model.MonitoringResult, error) {
	result := model.MonitoringResult{
		TotalAccounts: len(accounts),
		Timestamp:     m.clock.Now(),
	}

	current := m.settings.Get(ctx)
	if !current.Enabled {
		result.Errors = append(result.Errors, model.AccountError{Message: ErrDisabled.Error()})
		return result, nil
	}
	if status := m.surface.PermissionStatus(); status != alerting.PermissionGranted {
		result.Errors = append(result.Errors, model.AccountError{Message: ErrNotPermitted.Error()})
		return result, nil
	}

	threshold := current.LowBalanceThreshold
	for i, account := range accounts {
		if i > 0 {
			if err := m.pause(ctx); err != nil {
				return result, err
			}
		}

		balance, err := m.fetch(ctx, account.Number)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			m.logger.Warn().Err(err).Str("account", account.Number).Msg("balance fetch failed")
			result.Errors = append(result.Errors, model.AccountError{
				AccountNo: account.Number,
				Message:   err.Error(),
			})
			continue
		}
		result.CheckedAccounts++

		alert, ok := Evaluate(account, balance, threshold)
		if !ok {
			continue
		}
		if m.history.WasNotifiedToday(ctx, account.Number, alert.Type) {
			m.logger.Debug().Str("account", account.Number).Str("type", string(alert.Type)).Msg("already notified today")
			continue
		}
		result.Alerts = append(result.Alerts, alert)
	}

	m.history.UpdateLastCheckTime(ctx)

	m.logger.Info().
		Int("total", result.TotalAccounts).
		Int("checked", result.CheckedAccounts).
		Int("alerts", len(result.Alerts)).
		Int("errors", len(result.Errors)).
		Msg("monitoring pass complete")
	return result, nil
}

func (m *Monitor) fetch(ctx context.Context, accountNo string) (fetcher.BalanceResult, error) {
	if m.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.FetchTimeout)
		defer cancel()
	}
	return m.fetcher.FetchBalance(ctx, accountNo)
}

func (m *Monitor) pause(ctx context.Context) error {
	if m.opts.AccountDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.opts.AccountDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Evaluate classifies one fetch outcome. Dedup against history is the caller's job.
func Evaluate(account model.Account, result fetcher.BalanceResult, threshold decimal.Decimal) (model.Alert, bool) {
	if !result.Usable() {
		return model.Alert{
			AccountNo:   account.Number,
			AccountName: account.DisplayName(),
			Type:        model.DataUnavailable,
			Message:     unavailableMessage(account),
		}, true
	}

	balance := *result.Balance
	if !balance.LessThan(threshold) {
		return model.Alert{}, false
	}
	limit := threshold
	return model.Alert{
		AccountNo:   account.Number,
		AccountName: account.DisplayName(),
		Type:        model.LowBalance,
		Balance:     &balance,
		Threshold:   &limit,
		Message:     lowBalanceMessage(account.DisplayName(), account.Number, balance, threshold),
	}, true
}

// SendNotifications delivers alerts grouped by type and records them once every
// group was delivered.
func (m *Monitor) SendNotifications(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	if err := alerting.PermissionError(m.surface.PermissionStatus()); err != nil {
		return fmt.Errorf("send notifications: %w", err)
	}
	if m.signal != nil && !m.signal.Online() {
		return fmt.Errorf("send notifications: %w", connectivity.ErrOffline)
	}

	for _, group := range groupByType(alerts) {
		title, body, opts := compose(group)
		if err := m.surface.Show(ctx, title, body, opts); err != nil {
			return fmt.Errorf("deliver %s notification: %w", group.typ, err)
		}
		m.logger.Info().Str("type", string(group.typ)).Int("accounts", len(group.alerts)).Msg("notification delivered")
	}

	for _, alert := range alerts {
		m.history.RecordNotification(ctx, alert.AccountNo, alert.Type, alert.Balance, alert.Threshold)
	}

	today := clock.DateKey(m.clock.Now())
	if _, err := m.settings.Update(ctx, settings.Update{LastNotificationDate: &today}); err != nil {
		m.logger.Warn().Err(err).Msg("failed to stamp last notification date")
	}
	return nil
}

type alertGroup struct {
	typ    model.NotificationType
	alerts []model.Alert
}

// groupByType keeps the order in which each type first appears.
func groupByType(alerts []model.Alert) []alertGroup {
	var groups []alertGroup
	index := make(map[model.NotificationType]int)
	for _, alert := range alerts {
		idx, ok := index[alert.Type]
		if !ok {
			idx = len(groups)
			index[alert.Type] = idx
			groups = append(groups, alertGroup{typ: alert.Type})
		}
		groups[idx].alerts = append(groups[idx].alerts, alert)
	}
	return groups
}
