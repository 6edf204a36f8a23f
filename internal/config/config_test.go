package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, time.Minute, cfg.Scheduler.TickInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.AccountDelay)
	assert.Equal(t, 30*time.Second, cfg.Monitor.FetchTimeout)
	assert.Equal(t, 100, cfg.Retry.MaxQueueSize)
	assert.Equal(t, 50, cfg.Retry.MaxErrors)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.ItemDelay)
	assert.Equal(t, 30, cfg.History.RetentionDays)
	assert.True(t, cfg.Notifications.DefaultThreshold.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "09:00", cfg.Notifications.DefaultTime)
	assert.Equal(t, []string{"console"}, cfg.Alerting.Channels)
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("BALANCEWATCH_STORAGE_DRIVER", "memory")
	path := writeConfig(t, `
notifications:
  default_threshold: 250.5
  default_time: "07:30"
accounts:
  - number: "1001"
    name: Home
  - number: "1002"
    name: Office
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.True(t, cfg.Notifications.DefaultThreshold.Equal(decimal.RequireFromString("250.5")))
	assert.Equal(t, "07:30", cfg.Notifications.DefaultTime)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, AccountConfig{Number: "1002", Name: "Office"}, cfg.Accounts[1])
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "notifications:\n  default_time: \"25:99\"\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "alerting:\n  channels: [telegram]\n"))
	assert.ErrorContains(t, err, "bot_token")

	_, err = Load(writeConfig(t, "storage:\n  driver: postgres\n"))
	assert.ErrorContains(t, err, "dsn")

	_, err = Load(writeConfig(t, "storage:\n  driver: redis\n"))
	assert.Error(t, err)
}
