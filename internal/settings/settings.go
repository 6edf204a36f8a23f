package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"utility-balance-alerts/internal/clock"
	"utility-balance-alerts/internal/config"
	"utility-balance-alerts/internal/storage"
)

// StorageKey is the key owned by the settings store.
const StorageKey = "balancewatch.settings"

// ErrInvalid wraps validation failures returned by Update.
var ErrInvalid = errors.New("invalid settings")

// Settings 是用户的通知偏好。
type Settings struct {
	Enabled              bool            `json:"enabled"`
	LowBalanceThreshold  decimal.Decimal `json:"lowBalanceThreshold"`
	NotificationTime     string          `json:"notificationTime"`
	LastNotificationDate string          `json:"lastNotificationDate,omitempty"`
}

// Update is a partial change; nil fields are left untouched.
type Update struct {
	Enabled              *bool
	LowBalanceThreshold  *decimal.Decimal
	NotificationTime     *string
	LastNotificationDate *string
}

// Defaults builds the fallback settings from configuration.
func Defaults(cfg config.NotificationsConfig) Settings {
	return Settings{
		Enabled:             false,
		LowBalanceThreshold: cfg.DefaultThreshold,
		NotificationTime:    cfg.DefaultTime,
	}
}

// Validate checks threshold and time format.
func (s Settings) Validate() error {
	if s.LowBalanceThreshold.IsNegative() {
		return fmt.Errorf("%w: threshold cannot be negative", ErrInvalid)
	}
	if _, err := clock.ParseTimeOfDay(s.NotificationTime); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// TimeOfDay returns the parsed notification time.
func (s Settings) TimeOfDay() clock.TimeOfDay {
	tod, err := clock.ParseTimeOfDay(s.NotificationTime)
	if err != nil {
		return clock.TimeOfDay{Hour: 9}
	}
	return tod
}

// Store persists Settings under a single key.
type Store struct {
	kv       storage.Store
	defaults Settings
	logger   zerolog.Logger
	mu       sync.Mutex
}

// New constructs a settings store.
func New(kv storage.Store, defaults Settings, logger zerolog.Logger) *Store {
	return &Store{
		kv:       kv,
		defaults: defaults,
		logger:   logger.With().Str("component", "settings").Logger(),
	}
}

// Get returns the current settings merged over defaults.
func (s *Store) Get(ctx context.Context) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Update merges the given fields, validates and persists the result.
// Persistence failures are logged; the merged value is still returned.
func (s *Store) Update(ctx context.Context, update Update) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.load(ctx)
	next := current
	if update.Enabled != nil {
		next.Enabled = *update.Enabled
	}
	if update.LowBalanceThreshold != nil {
		next.LowBalanceThreshold = *update.LowBalanceThreshold
	}
	if update.NotificationTime != nil {
		next.NotificationTime = *update.NotificationTime
	}
	if update.LastNotificationDate != nil {
		next.LastNotificationDate = *update.LastNotificationDate
	}

	if err := next.Validate(); err != nil {
		return current, err
	}

	s.save(ctx, next)
	return next, nil
}

// Reset drops persisted settings so defaults apply again.
func (s *Store) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Remove(ctx, StorageKey); err != nil {
		s.logger.Error().Err(err).Msg("failed to remove settings")
	}
}

func (s *Store) load(ctx context.Context) Settings {
	merged := s.defaults

	raw, found, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read settings; using defaults")
		return merged
	}
	if !found {
		return merged
	}

	if err := json.Unmarshal([]byte(raw), &merged); err != nil {
		s.logger.Warn().Err(err).Msg("corrupt settings; using defaults")
		return s.defaults
	}
	if err := merged.Validate(); err != nil {
		s.logger.Warn().Err(err).Msg("persisted settings invalid; using defaults")
		return s.defaults
	}
	return merged
}

func (s *Store) save(ctx context.Context, value Settings) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode settings")
		return
	}
	if err := s.kv.Set(ctx, StorageKey, string(payload)); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist settings")
	}
}
