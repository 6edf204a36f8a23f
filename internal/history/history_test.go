package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utility-balance-alerts/internal/clock"
	"utility-balance-alerts/internal/model"
	"utility-balance-alerts/internal/storage"
)

func newStore(t *testing.T, at time.Time) (*Store, *clock.Manual, *storage.Memory) {
	t.Helper()
	kv := storage.NewMemory()
	clk := clock.NewManual(at)
	return New(kv, clk, Options{}, zerolog.Nop()), clk, kv
}

func TestRecordAndDedup(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newStore(t, time.Date(2024, 5, 1, 9, 0, 0, 0, clock.Zone))

	assert.False(t, store.WasNotifiedToday(ctx, "1001", model.LowBalance))

	balance := decimal.NewFromInt(50)
	threshold := decimal.NewFromInt(100)
	id := store.RecordNotification(ctx, "1001", model.LowBalance, &balance, &threshold)
	assert.NotEmpty(t, id)

	assert.True(t, store.WasNotifiedToday(ctx, "1001", model.LowBalance))
	assert.False(t, store.WasNotifiedToday(ctx, "1001", model.DataUnavailable))
	assert.False(t, store.WasNotifiedToday(ctx, "1002", model.LowBalance))
	assert.Equal(t, 1, store.TodaysNotificationCount(ctx))
	assert.True(t, store.WasDailyCheckPerformedToday(ctx))
}

func TestDayBoundaryUsesFixedZone(t *testing.T) {
	ctx := context.Background()
	// 23:30 in UTC+6 is 17:30 UTC of the same calendar day.
	store, clk, _ := newStore(t, time.Date(2024, 5, 1, 17, 30, 0, 0, time.UTC))

	store.RecordNotification(ctx, "1001", model.DataUnavailable, nil, nil)
	assert.True(t, store.WasNotifiedToday(ctx, "1001", model.DataUnavailable))

	// 18:05 UTC is 00:05 the next day in UTC+6, though still May 1 in UTC.
	clk.Set(time.Date(2024, 5, 1, 18, 5, 0, 0, time.UTC))
	assert.False(t, store.WasNotifiedToday(ctx, "1001", model.DataUnavailable))
	assert.False(t, store.WasDailyCheckPerformedToday(ctx))
	assert.Equal(t, 0, store.TodaysNotificationCount(ctx))
}

func TestUpdateLastCheckTimeWithoutRecords(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newStore(t, time.Date(2024, 5, 1, 9, 0, 0, 0, clock.Zone))

	assert.False(t, store.WasDailyCheckPerformedToday(ctx))
	store.UpdateLastCheckTime(ctx)
	assert.True(t, store.WasDailyCheckPerformedToday(ctx))

	summary, ok := store.TodaysSummary(ctx)
	require.True(t, ok)
	assert.Equal(t, "2024-05-01", summary.Date)
	assert.Empty(t, summary.Notifications)
	require.NotNil(t, summary.LastCheckTime)
}

func TestRetentionPrunesOnLoad(t *testing.T) {
	ctx := context.Background()
	store, _, kv := newStore(t, time.Date(2024, 5, 31, 9, 0, 0, 0, clock.Zone))

	seed := map[string]model.DailySummary{
		"2024-04-01": {Date: "2024-04-01"},
		"2024-04-30": {Date: "2024-04-30"},
		"2024-05-01": {Date: "2024-05-01"},
		"2024-05-30": {Date: "2024-05-30"},
	}
	payload, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, StorageKey, string(payload)))

	got := store.History(ctx, 90)
	var dates []string
	for _, summary := range got {
		dates = append(dates, summary.Date)
	}
	assert.Equal(t, []string{"2024-05-01", "2024-05-30"}, dates)

	raw, _, err := kv.Get(ctx, StorageKey)
	require.NoError(t, err)
	var persisted map[string]model.DailySummary
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.NotContains(t, persisted, "2024-04-01")
	assert.NotContains(t, persisted, "2024-04-30")
}

func TestHistoryOrderAndGaps(t *testing.T) {
	ctx := context.Background()
	store, clk, _ := newStore(t, time.Date(2024, 5, 1, 9, 0, 0, 0, clock.Zone))

	store.RecordNotification(ctx, "1001", model.LowBalance, nil, nil)
	clk.Advance(48 * time.Hour)
	store.RecordNotification(ctx, "1002", model.LowBalance, nil, nil)

	got := store.History(ctx, 7)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-05-01", got[0].Date)
	assert.Equal(t, "2024-05-03", got[1].Date)

	assert.Len(t, store.History(ctx, 1), 1)
	assert.Empty(t, store.History(ctx, 0))
	assert.Empty(t, store.History(ctx, -3))
}

func TestAccountsNotifiedTodayDeduplicates(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newStore(t, time.Date(2024, 5, 1, 9, 0, 0, 0, clock.Zone))

	store.RecordNotification(ctx, "1001", model.DataUnavailable, nil, nil)
	store.RecordNotification(ctx, "1002", model.LowBalance, nil, nil)
	store.RecordNotification(ctx, "1001", model.LowBalance, nil, nil)

	assert.Equal(t, []string{"1001", "1002"}, store.AccountsNotifiedToday(ctx))
	assert.Equal(t, 3, store.TodaysNotificationCount(ctx))
}

func TestCorruptHistoryDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	store, _, kv := newStore(t, time.Date(2024, 5, 1, 9, 0, 0, 0, clock.Zone))
	require.NoError(t, kv.Set(ctx, StorageKey, "[broken"))

	assert.False(t, store.WasNotifiedToday(ctx, "1001", model.LowBalance))
	store.RecordNotification(ctx, "1001", model.LowBalance, nil, nil)
	assert.True(t, store.WasNotifiedToday(ctx, "1001", model.LowBalance))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newStore(t, time.Date(2024, 5, 1, 9, 0, 0, 0, clock.Zone))
	store.RecordNotification(ctx, "1001", model.LowBalance, nil, nil)
	store.Clear(ctx)
	assert.False(t, store.WasNotifiedToday(ctx, "1001", model.LowBalance))
}

type readOnlyStore struct{ *storage.Memory }

func (readOnlyStore) Set(context.Context, string, string) error { return errors.New("disk full") }

func TestPersistenceFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, clock.Zone))
	store := New(readOnlyStore{storage.NewMemory()}, clk, Options{}, zerolog.Nop())

	balance := decimal.NewFromInt(50)
	var id string
	require.NotPanics(t, func() {
		id = store.RecordNotification(ctx, "1001", model.LowBalance, &balance, nil)
		store.UpdateLastCheckTime(ctx)
	})
	assert.NotEmpty(t, id)

	// nothing reached storage, so the store behaves as if it has no memory
	assert.False(t, store.WasNotifiedToday(ctx, "1001", model.LowBalance))
	assert.False(t, store.WasDailyCheckPerformedToday(ctx))
	assert.Empty(t, store.History(ctx, 7))
}
