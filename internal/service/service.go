package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"utility-balance-alerts/internal/alerting"
	"utility-balance-alerts/internal/clock"
	"utility-balance-alerts/internal/connectivity"
	"utility-balance-alerts/internal/history"
	"utility-balance-alerts/internal/model"
	"utility-balance-alerts/internal/monitor"
	"utility-balance-alerts/internal/retry"
	"utility-balance-alerts/internal/scheduler"
	"utility-balance-alerts/internal/settings"
	"utility-balance-alerts/internal/storage"
)

// Deps are the collaborators wired into the orchestrator.
type Deps struct {
	Store     storage.Store
	Settings  *settings.Store
	History   *history.Store
	Queue     *retry.Queue
	Scheduler *scheduler.Scheduler
	Monitor   *monitor.Monitor
	Surface   alerting.Surface
	Signal    connectivity.Signal
	Clock     clock.Clock
	LockKey   int64
}

// Status is a read-only snapshot for the CLI.
type Status struct {
	Settings              settings.Settings
	Scheduler             scheduler.Status
	Permission            alerting.Permission
	Online                bool
	Accounts              int
	CheckedToday          bool
	LastCheckTime         *time.Time
	TodaysNotifications   int
	AccountsNotifiedToday []string
	PendingRetries        int
	RecentErrors          []model.ErrorEntry
}

// Service orchestrates settings, scheduling, monitoring and delivery.
type Service struct {
	settings  *settings.Store
	history   *history.Store
	queue     *retry.Queue
	scheduler *scheduler.Scheduler
	monitor   *monitor.Monitor
	surface   alerting.Surface
	signal    connectivity.Signal
	clock     clock.Clock
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64

	mu          sync.Mutex
	accounts    []model.Account
	initialized bool
	background  bool
	baseCtx     context.Context

	checking atomic.Bool
}

// New constructs the orchestrator.
func New(deps Deps, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.System{}
	}

	return &Service{
		settings:  deps.Settings,
		history:   deps.History,
		queue:     deps.Queue,
		scheduler: deps.Scheduler,
		monitor:   deps.Monitor,
		surface:   deps.Surface,
		signal:    deps.Signal,
		clock:     clk,
		logger:    logger.With().Str("component", "service").Logger(),
		locker:    locker,
		lockKey:   deps.LockKey,
	}
}

// Initialize wires listeners and starts the scheduler when notifications are on.
// A repeated call only replaces the account list.
func (s *Service) Initialize(ctx context.Context, accounts []model.Account) error {
	s.mu.Lock()
	s.accounts = append([]model.Account(nil), accounts...)
	if s.initialized {
		s.mu.Unlock()
		s.logger.Debug().Int("accounts", len(accounts)).Msg("account list updated")
		return nil
	}
	s.initialized = true
	s.background = true
	s.baseCtx = ctx
	s.mu.Unlock()

	s.queue.Initialize(ctx)

	current := s.settings.Get(ctx)
	if current.Enabled && s.surface.PermissionStatus() == alerting.PermissionGranted {
		if err := s.startScheduler(ctx, current); err != nil {
			return err
		}
	}

	s.logger.Info().
		Int("accounts", len(accounts)).
		Bool("enabled", current.Enabled).
		Str("permission", string(s.surface.PermissionStatus())).
		Msg("notification service initialised")
	return nil
}

// Attach registers the accounts for a one-shot command. Unlike Initialize it
// starts no scheduler loop and no queue drains; settings changes are persisted
// and picked up by a running daemon through Reconcile.
func (s *Service) Attach(accounts []model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append([]model.Account(nil), accounts...)
}

// Accounts returns the monitored accounts.
func (s *Service) Accounts() []model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Account(nil), s.accounts...)
}

// EnableNotifications asks for delivery permission, persists the flag and starts the scheduler.
func (s *Service) EnableNotifications(ctx context.Context) error {
	status, err := s.surface.RequestPermission(ctx)
	if err == nil {
		err = alerting.PermissionError(status)
	}
	if err != nil {
		s.queue.HandleError(ctx, err, model.ErrorPermission, "", map[string]string{"op": "enable"})
		return fmt.Errorf("enable notifications: %w", err)
	}

	enabled := true
	current, err := s.settings.Update(ctx, settings.Update{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("enable notifications: %w", err)
	}
	if err := s.startScheduler(ctx, current); err != nil {
		return err
	}
	s.logger.Info().Str("time", current.NotificationTime).Msg("notifications enabled")
	return nil
}

// DisableNotifications persists the flag and stops the scheduler.
func (s *Service) DisableNotifications(ctx context.Context) error {
	disabled := false
	if _, err := s.settings.Update(ctx, settings.Update{Enabled: &disabled}); err != nil {
		return fmt.Errorf("disable notifications: %w", err)
	}
	s.scheduler.Stop()
	s.logger.Info().Msg("notifications disabled")
	return nil
}

// RunScheduledCheck satisfies scheduler.Job.
func (s *Service) RunScheduledCheck(ctx context.Context) error {
	return s.PerformScheduledCheck(ctx)
}

// PerformScheduledCheck 执行一次完整的巡检：拉取余额、投递告警，投递失败时逐条进入重试队列。
func (s *Service) PerformScheduledCheck(ctx context.Context) (err error) {
	accounts := s.Accounts()
	if len(accounts) == 0 {
		s.logger.Debug().Msg("no accounts configured; skipping check")
		return nil
	}
	if s.signal != nil && !s.signal.Online() {
		s.logger.Info().Msg("offline; skipping scheduled check")
		return nil
	}
	if !s.checking.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("check already in progress; skipping")
		return nil
	}
	defer s.checking.Store(false)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled check panicked: %v", r)
			s.queue.HandleError(ctx, err, model.ErrorUnknown, "", map[string]string{"op": "scheduled_check"})
		}
	}()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.queue.HandleError(ctx, err, model.ErrorUnknown, "", map[string]string{"op": "advisory_lock"})
		return err
	}
	if !proceed {
		s.logger.Info().Msg("skip check because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCheck(ctx, accounts)
}

func (s *Service) executeCheck(ctx context.Context, accounts []model.Account) error {
	result, err := s.monitor.CheckAllAccounts(ctx, accounts)
	if err != nil {
		s.queue.HandleError(ctx, err, model.ErrorUnknown, "", map[string]string{"op": "scheduled_check"})
		return fmt.Errorf("monitoring pass: %w", err)
	}

	for _, accountErr := range result.Errors {
		s.queue.HandleError(ctx, errors.New(accountErr.Message), model.ErrorAPI, accountErr.AccountNo, nil)
	}

	if len(result.Alerts) == 0 {
		return nil
	}

	if err := s.monitor.SendNotifications(ctx, result.Alerts); err != nil {
		s.logger.Error().Err(err).Int("alerts", len(result.Alerts)).Msg("delivery failed; queueing alerts")
		for _, alert := range result.Alerts {
			s.queue.QueueNotification(ctx, alert.AccountNo, alert.Type, alert.Message, alertData(alert))
		}
		typ := retry.Classify(err)
		if typ == model.ErrorUnknown {
			typ = model.ErrorNetwork
		}
		s.queue.HandleError(ctx, err, typ, "", map[string]string{
			"op":     "deliver",
			"alerts": strconv.Itoa(len(result.Alerts)),
		})
	}
	return nil
}

func alertData(alert model.Alert) map[string]string {
	data := map[string]string{
		"accountNo":   alert.AccountNo,
		"accountName": alert.AccountName,
	}
	if alert.Balance != nil {
		data["balance"] = alert.Balance.StringFixed(2)
	}
	if alert.Threshold != nil {
		data["threshold"] = alert.Threshold.StringFixed(2)
	}
	return data
}

// UpdateSettings applies changes and restarts the scheduler only when it was
// running and the time or enabled flag changed.
func (s *Service) UpdateSettings(ctx context.Context, update settings.Update) (settings.Settings, error) {
	before := s.settings.Get(ctx)
	wasRunning := s.scheduler.Running()

	after, err := s.settings.Update(ctx, update)
	if err != nil {
		return after, err
	}

	if wasRunning && (before.NotificationTime != after.NotificationTime || before.Enabled != after.Enabled) {
		s.logger.Info().
			Str("time", after.NotificationTime).
			Bool("enabled", after.Enabled).
			Msg("schedule changed; restarting scheduler")
		s.scheduler.Stop()
		if after.Enabled {
			if err := s.startScheduler(ctx, after); err != nil {
				return after, err
			}
		}
	}
	return after, nil
}

// Reconcile aligns the scheduler with settings persisted by another process
// sharing the same store, e.g. the CLI toggling notifications while the daemon runs.
func (s *Service) Reconcile(ctx context.Context) error {
	current := s.settings.Get(ctx)
	want := current.Enabled && s.surface.PermissionStatus() == alerting.PermissionGranted
	status := s.scheduler.Status()

	switch {
	case !want && status.Running:
		s.logger.Info().Msg("notifications turned off elsewhere; stopping scheduler")
		s.scheduler.Stop()
	case want && (!status.Running || status.Target != current.TimeOfDay().String()):
		s.logger.Info().Str("time", current.NotificationTime).Msg("syncing scheduler with stored settings")
		return s.startScheduler(ctx, current)
	}
	return nil
}

// ForceCheck runs the check now, through the scheduler when one is registered.
func (s *Service) ForceCheck(ctx context.Context) error {
	err := s.scheduler.ForceExecute(ctx)
	if errors.Is(err, scheduler.ErrNoJob) {
		return s.PerformScheduledCheck(ctx)
	}
	return err
}

// SendTestNotification delivers a one-off message to verify the surface.
func (s *Service) SendTestNotification(ctx context.Context) error {
	if err := alerting.PermissionError(s.surface.PermissionStatus()); err != nil {
		return fmt.Errorf("test notification: %w", err)
	}
	err := s.surface.Show(ctx, "Test notification", "Balance notifications are working.", alerting.Options{
		Tag:  "test",
		Data: map[string]string{"sentAt": s.clock.Now().Format(time.RFC3339)},
	})
	if err != nil {
		s.queue.HandleError(ctx, err, "", "", map[string]string{"op": "test_notification"})
		return fmt.Errorf("test notification: %w", err)
	}
	return nil
}

// Status collects a snapshot of every component.
func (s *Service) Status(ctx context.Context) Status {
	status := Status{
		Settings:              s.settings.Get(ctx),
		Scheduler:             s.scheduler.Status(),
		Permission:            s.surface.PermissionStatus(),
		Online:                s.signal == nil || s.signal.Online(),
		Accounts:              len(s.Accounts()),
		CheckedToday:          s.history.WasDailyCheckPerformedToday(ctx),
		TodaysNotifications:   s.history.TodaysNotificationCount(ctx),
		AccountsNotifiedToday: s.history.AccountsNotifiedToday(ctx),
		PendingRetries:        len(s.queue.Pending(ctx)),
	}
	if summary, ok := s.history.TodaysSummary(ctx); ok {
		status.LastCheckTime = summary.LastCheckTime
	}
	errs := s.queue.Errors(ctx)
	if len(errs) > 5 {
		errs = errs[:5]
	}
	status.RecentErrors = errs
	return status
}

// Close stops background work and waits for it to finish.
func (s *Service) Close() {
	s.scheduler.Stop()
	s.scheduler.Wait()
	s.queue.Close()
}

func (s *Service) startScheduler(ctx context.Context, current settings.Settings) error {
	s.mu.Lock()
	background := s.background
	if s.baseCtx != nil {
		ctx = s.baseCtx
	}
	s.mu.Unlock()
	if !background {
		s.logger.Debug().Str("time", current.NotificationTime).Msg("no background work attached; scheduler left stopped")
		return nil
	}

	if err := s.scheduler.Start(ctx, s, current.TimeOfDay()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
