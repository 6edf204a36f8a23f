package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utility-balance-alerts/internal/storage"
)

type brokenStore struct{ *storage.Memory }

func (brokenStore) Set(context.Context, string, string) error { return errors.New("disk full") }

func defaultSettings() Settings {
	return Settings{LowBalanceThreshold: decimal.NewFromInt(100), NotificationTime: "09:00"}
}

func TestGetReturnsDefaultsWhenEmpty(t *testing.T) {
	store := New(storage.NewMemory(), defaultSettings(), zerolog.Nop())
	got := store.Get(context.Background())
	assert.False(t, got.Enabled)
	assert.Equal(t, "09:00", got.NotificationTime)
	assert.True(t, got.LowBalanceThreshold.Equal(decimal.NewFromInt(100)))
}

func TestUpdateShallowMerges(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	store := New(kv, defaultSettings(), zerolog.Nop())

	enabled := true
	updated, err := store.Update(ctx, Update{Enabled: &enabled})
	require.NoError(t, err)
	assert.True(t, updated.Enabled)
	assert.Equal(t, "09:00", updated.NotificationTime)

	at := "18:45"
	_, err = store.Update(ctx, Update{NotificationTime: &at})
	require.NoError(t, err)

	// A fresh store over the same backend sees both changes.
	reloaded := New(kv, defaultSettings(), zerolog.Nop()).Get(ctx)
	assert.True(t, reloaded.Enabled)
	assert.Equal(t, "18:45", reloaded.NotificationTime)
}

func TestUpdateRejectsInvalidValues(t *testing.T) {
	ctx := context.Background()
	store := New(storage.NewMemory(), defaultSettings(), zerolog.Nop())

	negative := decimal.NewFromInt(-1)
	_, err := store.Update(ctx, Update{LowBalanceThreshold: &negative})
	assert.ErrorIs(t, err, ErrInvalid)

	bad := "9am"
	_, err = store.Update(ctx, Update{NotificationTime: &bad})
	assert.ErrorIs(t, err, ErrInvalid)

	assert.Equal(t, "09:00", store.Get(ctx).NotificationTime)
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := New(storage.NewMemory(), defaultSettings(), zerolog.Nop())
	got := store.Get(ctx)
	got.NotificationTime = "00:00"
	assert.Equal(t, "09:00", store.Get(ctx).NotificationTime)
}

func TestCorruptValueFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(ctx, StorageKey, "{not json"))

	got := New(kv, defaultSettings(), zerolog.Nop()).Get(ctx)
	assert.Equal(t, defaultSettings(), got)
}

func TestPartialPersistedValueMergesDefaults(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(ctx, StorageKey, `{"enabled":true}`))

	got := New(kv, defaultSettings(), zerolog.Nop()).Get(ctx)
	assert.True(t, got.Enabled)
	assert.Equal(t, "09:00", got.NotificationTime)
	assert.True(t, got.LowBalanceThreshold.Equal(decimal.NewFromInt(100)))
}

func TestPersistenceFailureIsNotReturned(t *testing.T) {
	store := New(brokenStore{storage.NewMemory()}, defaultSettings(), zerolog.Nop())
	enabled := true
	updated, err := store.Update(context.Background(), Update{Enabled: &enabled})
	require.NoError(t, err)
	assert.True(t, updated.Enabled)
}
