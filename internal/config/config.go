package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"utility-balance-alerts/internal/clock"
	"utility-balance-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`
	Retry         RetryConfig         `mapstructure:"retry"`
	History       HistoryConfig       `mapstructure:"history"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	BalanceAPI    BalanceAPIConfig    `mapstructure:"balance_api"`
	Connectivity  ConnectivityConfig  `mapstructure:"connectivity"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Accounts      []AccountConfig     `mapstructure:"accounts"`
	AccountsFile  string              `mapstructure:"accounts_file"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects the key-value backend.
type StorageConfig struct {
	Driver     string         `mapstructure:"driver"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   DatabaseConfig `mapstructure:"postgres"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// SchedulerConfig governs the daily trigger polling cadence.
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// MonitorConfig paces the per-account loop.
type MonitorConfig struct {
	AccountDelay time.Duration `mapstructure:"account_delay"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// RetryConfig bounds the retry queue and error log.
type RetryConfig struct {
	MaxQueueSize int           `mapstructure:"max_queue_size"`
	MaxErrors    int           `mapstructure:"max_errors"`
	MaxRetries   int           `mapstructure:"max_retries"`
	ItemDelay    time.Duration `mapstructure:"item_delay"`
}

// HistoryConfig controls the notification ledger retention.
type HistoryConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// NotificationsConfig 提供用户设置的默认值。
type NotificationsConfig struct {
	DefaultThreshold decimal.Decimal `mapstructure:"default_threshold"`
	DefaultTime      string          `mapstructure:"default_time"`
}

// BalanceAPIConfig points at the upstream balance service.
type BalanceAPIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ConnectivityConfig configures the online probe. An empty ProbeURL means always online.
type ConnectivityConfig struct {
	ProbeURL string        `mapstructure:"probe_url"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AlertingConfig defines delivery routing.
type AlertingConfig struct {
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SlackConfig targets a Slack incoming webhook.
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig targets a generic JSON webhook.
type WebhookConfig struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

// AccountConfig declares one monitored account inline.
type AccountConfig struct {
	Number string `mapstructure:"number"`
	Name   string `mapstructure:"name"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("BALANCEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "balancewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "data/balancewatch.db")
	v.SetDefault("storage.postgres.max_open_conns", 5)
	v.SetDefault("storage.postgres.max_idle_conns", 1)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.postgres.advisory_lock_key", int64(0x62616c77))

	v.SetDefault("scheduler.tick_interval", "60s")

	v.SetDefault("monitor.account_delay", "500ms")
	v.SetDefault("monitor.fetch_timeout", "30s")

	v.SetDefault("retry.max_queue_size", 100)
	v.SetDefault("retry.max_errors", 50)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.item_delay", "1s")

	v.SetDefault("history.retention_days", 30)

	v.SetDefault("notifications.default_threshold", "100")
	v.SetDefault("notifications.default_time", "09:00")

	v.SetDefault("balance_api.request_timeout", "15s")

	v.SetDefault("connectivity.interval", "30s")
	v.SetDefault("connectivity.timeout", "5s")

	v.SetDefault("alerting.channels", []string{"console"})
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHookFunc 将字符串或数字转换为 decimal.Decimal。
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(value))
		case float64:
			return decimal.NewFromFloat(value), nil
		case float32:
			return decimal.NewFromFloat32(value), nil
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		}
		return data, nil
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Driver) {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be greater than zero")
	}
	if c.Monitor.AccountDelay < 0 {
		return fmt.Errorf("monitor.account_delay cannot be negative")
	}
	if c.Retry.MaxQueueSize <= 0 || c.Retry.MaxErrors <= 0 || c.Retry.MaxRetries <= 0 {
		return fmt.Errorf("retry limits must be greater than zero")
	}
	if c.History.RetentionDays <= 0 {
		return fmt.Errorf("history.retention_days must be greater than zero")
	}
	if c.Notifications.DefaultThreshold.IsNegative() {
		return fmt.Errorf("notifications.default_threshold cannot be negative")
	}
	if _, err := clock.ParseTimeOfDay(c.Notifications.DefaultTime); err != nil {
		return fmt.Errorf("notifications.default_time: %w", err)
	}
	for _, channel := range c.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(channel)) {
		case "console":
		case "telegram":
			if c.Alerting.Telegram.BotToken == "" {
				return fmt.Errorf("alerting.telegram.bot_token 必须配置")
			}
			if c.Alerting.Telegram.ChatID == "" {
				return fmt.Errorf("alerting.telegram.chat_id 必须配置")
			}
		case "slack":
			if c.Alerting.Slack.WebhookURL == "" {
				return fmt.Errorf("alerting.slack.webhook_url 必须配置")
			}
		case "webhook":
			if c.Alerting.Webhook.URL == "" {
				return fmt.Errorf("alerting.webhook.url 必须配置")
			}
		default:
			return fmt.Errorf("alerting channel %q is not supported", channel)
		}
	}
	for i, account := range c.Accounts {
		if strings.TrimSpace(account.Number) == "" {
			return fmt.Errorf("accounts[%d].number is required", i)
		}
	}
	return nil
}
