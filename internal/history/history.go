package history

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"utility-balance-alerts/internal/clock"
	"utility-balance-alerts/internal/model"
	"utility-balance-alerts/internal/storage"
)

// StorageKey is the key owned by the history store.
const StorageKey = "balancewatch.history"

// DefaultRetentionDays bounds how many days of summaries are kept.
const DefaultRetentionDays = 30

// Options tune the history store.
type Options struct {
	RetentionDays int
}

// Store is the per-day ledger of delivered alerts.
//
// Day keys are computed in clock.Zone. Only today's summary is consulted for
// dedup, so older records never block a later day.
type Store struct {
	kv        storage.Store
	clock     clock.Clock
	retention int
	logger    zerolog.Logger
	mu        sync.Mutex
}

// New constructs a history store.
func New(kv storage.Store, clk clock.Clock, opts Options, logger zerolog.Logger) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	retention := opts.RetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	return &Store{
		kv:        kv,
		clock:     clk,
		retention: retention,
		logger:    logger.With().Str("component", "history").Logger(),
	}
}

// WasNotifiedToday reports whether a delivered alert of this type exists for the account today.
func (s *Store) WasNotifiedToday(ctx context.Context, accountNo string, typ model.NotificationType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, ok := s.load(ctx)[s.today()]
	if !ok {
		return false
	}
	for _, record := range summary.Notifications {
		if record.Notified && record.AccountNo == accountNo && record.Type == typ {
			return true
		}
	}
	return false
}

// RecordNotification appends a delivered alert to today's summary and returns its id.
func (s *Store) RecordNotification(ctx context.Context, accountNo string, typ model.NotificationType, balance, threshold *decimal.Decimal) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	record := model.NotificationRecord{
		ID:        uuid.NewString(),
		AccountNo: accountNo,
		Type:      typ,
		Timestamp: now,
		Balance:   copyDecimal(balance),
		Threshold: copyDecimal(threshold),
		Notified:  true,
	}

	all := s.load(ctx)
	key := clock.DateKey(now)
	summary := all[key]
	summary.Date = key
	summary.Notifications = append(summary.Notifications, record)
	summary.LastCheckTime = &now
	all[key] = summary
	s.save(ctx, all)

	s.logger.Debug().Str("account", accountNo).Str("type", string(typ)).Msg("notification recorded")
	return record.ID
}

// UpdateLastCheckTime marks today's check as performed without adding a record.
func (s *Store) UpdateLastCheckTime(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	all := s.load(ctx)
	key := clock.DateKey(now)
	summary := all[key]
	summary.Date = key
	if summary.Notifications == nil {
		summary.Notifications = []model.NotificationRecord{}
	}
	summary.LastCheckTime = &now
	all[key] = summary
	s.save(ctx, all)
}

// TodaysSummary returns today's summary, if any.
func (s *Store) TodaysSummary(ctx context.Context) (model.DailySummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, ok := s.load(ctx)[s.today()]
	if !ok {
		return model.DailySummary{}, false
	}
	return summary.Clone(), true
}

// History returns summaries for the last n days, oldest first. Missing days are omitted.
func (s *Store) History(ctx context.Context, days int) []model.DailySummary {
	if days <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.load(ctx)
	now := s.clock.Now()
	out := make([]model.DailySummary, 0, days)
	for i := days - 1; i >= 0; i-- {
		key := clock.DateKey(now.AddDate(0, 0, -i))
		if summary, ok := all[key]; ok {
			out = append(out, summary.Clone())
		}
	}
	return out
}

// TodaysNotificationCount counts alerts delivered today.
func (s *Store) TodaysNotificationCount(ctx context.Context) int {
	summary, ok := s.TodaysSummary(ctx)
	if !ok {
		return 0
	}
	return len(summary.Notifications)
}

// AccountsNotifiedToday lists each account alerted today once, in first-seen order.
func (s *Store) AccountsNotifiedToday(ctx context.Context) []string {
	summary, ok := s.TodaysSummary(ctx)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(summary.Notifications))
	var accounts []string
	for _, record := range summary.Notifications {
		if _, dup := seen[record.AccountNo]; dup {
			continue
		}
		seen[record.AccountNo] = struct{}{}
		accounts = append(accounts, record.AccountNo)
	}
	return accounts
}

// WasDailyCheckPerformedToday reports whether a monitoring pass completed today.
func (s *Store) WasDailyCheckPerformedToday(ctx context.Context) bool {
	summary, ok := s.TodaysSummary(ctx)
	return ok && summary.LastCheckTime != nil
}

// Clear removes all history.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Remove(ctx, StorageKey); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear history")
	}
}

func (s *Store) today() string {
	return clock.DateKey(s.clock.Now())
}

// load 读取并裁剪超过保留期的记录。
func (s *Store) load(ctx context.Context) map[string]model.DailySummary {
	all := make(map[string]model.DailySummary)

	raw, found, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read history")
		return all
	}
	if !found {
		return all
	}
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		s.logger.Warn().Err(err).Msg("corrupt history; starting empty")
		return make(map[string]model.DailySummary)
	}

	cutoff := clock.DateKey(s.clock.Now().AddDate(0, 0, -s.retention))
	pruned := 0
	for key := range all {
		if key < cutoff {
			delete(all, key)
			pruned++
		}
	}
	if pruned > 0 {
		s.logger.Debug().Int("pruned", pruned).Str("cutoff", cutoff).Msg("pruned expired history")
		s.save(ctx, all)
	}
	return all
}

func (s *Store) save(ctx context.Context, all map[string]model.DailySummary) {
	payload, err := json.Marshal(all)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode history")
		return
	}
	if err := s.kv.Set(ctx, StorageKey, string(payload)); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist history")
	}
}

func copyDecimal(value *decimal.Decimal) *decimal.Decimal {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
