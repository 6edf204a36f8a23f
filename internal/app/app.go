package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"utility-balance-alerts/internal/accounts"
	"utility-balance-alerts/internal/alerting"
	"utility-balance-alerts/internal/clock"
	"utility-balance-alerts/internal/config"
	"utility-balance-alerts/internal/connectivity"
	"utility-balance-alerts/internal/fetcher"
	"utility-balance-alerts/internal/history"
	"utility-balance-alerts/internal/model"
	"utility-balance-alerts/internal/monitor"
	"utility-balance-alerts/internal/retry"
	"utility-balance-alerts/internal/scheduler"
	"utility-balance-alerts/internal/service"
	"utility-balance-alerts/internal/settings"
	"utility-balance-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
	Clock  clock.Clock
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		Clock:  clock.System{},
	}
}

// runtime holds one fully wired set of components.
type runtime struct {
	store     storage.Store
	settings  *settings.Store
	history   *history.Store
	queue     *retry.Queue
	scheduler *scheduler.Scheduler
	monitor   *monitor.Monitor
	surface   alerting.Surface
	signal    connectivity.Signal
	probe     *connectivity.Probe
	accounts  []model.Account
	service   *service.Service
}

func (r *runtime) Close(logger zerolog.Logger) {
	r.service.Close()
	if err := r.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close storage")
	}
}

// open wires every component. A nil balances argument uses the HTTP fetcher.
func (a *App) open(ctx context.Context, balances fetcher.BalanceFetcher) (*runtime, error) {
	list, err := accounts.Resolve(a.Config)
	if err != nil {
		return nil, err
	}

	surface, err := a.newSurface()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	sig, probe := a.newSignal()
	if balances == nil {
		balances = a.newFetcher(list)
	}

	rt := &runtime{
		store:    store,
		surface:  surface,
		signal:   sig,
		probe:    probe,
		accounts: list,
	}
	rt.settings = settings.New(store, settings.Defaults(a.Config.Notifications), a.Logger)
	rt.history = history.New(store, a.Clock, history.Options{RetentionDays: a.Config.History.RetentionDays}, a.Logger)
	rt.queue = retry.New(store, surface, sig, a.Clock, retry.Options{
		MaxQueueSize: a.Config.Retry.MaxQueueSize,
		MaxErrors:    a.Config.Retry.MaxErrors,
		MaxRetries:   a.Config.Retry.MaxRetries,
		ItemDelay:    a.Config.Retry.ItemDelay,
		Recorder:     rt.history,
	}, a.Logger)
	rt.scheduler = scheduler.New(scheduler.Options{TickInterval: a.Config.Scheduler.TickInterval}, a.Clock, rt.history, a.Logger)
	rt.monitor = monitor.New(rt.settings, rt.history, surface, sig, balances, a.Clock, monitor.Options{
		AccountDelay: a.Config.Monitor.AccountDelay,
		FetchTimeout: a.Config.Monitor.FetchTimeout,
	}, a.Logger)

	var lockKey int64
	if strings.EqualFold(a.Config.Storage.Driver, "postgres") {
		lockKey = a.Config.Storage.Postgres.AdvisoryLockKey
	}
	rt.service = service.New(service.Deps{
		Store:     store,
		Settings:  rt.settings,
		History:   rt.history,
		Queue:     rt.queue,
		Scheduler: rt.scheduler,
		Monitor:   rt.monitor,
		Surface:   surface,
		Signal:    sig,
		Clock:     a.Clock,
		LockKey:   lockKey,
	}, a.Logger)

	if probe != nil {
		probe.Check(ctx)
	}
	return rt, nil
}

func (a *App) newSurface() (alerting.Surface, error) {
	cfg := a.Config.Alerting
	var surfaces []alerting.Surface
	for _, channel := range cfg.Channels {
		switch strings.ToLower(strings.TrimSpace(channel)) {
		case "console":
			surfaces = append(surfaces, alerting.NewConsole(a.Logger))
		case "telegram":
			surfaces = append(surfaces, alerting.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Timeout, a.Logger))
		case "slack":
			surfaces = append(surfaces, alerting.NewSlack(cfg.Slack.WebhookURL, cfg.Slack.Channel))
		case "webhook":
			surfaces = append(surfaces, alerting.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret))
		default:
			return nil, fmt.Errorf("unsupported alerting channel %q", channel)
		}
	}

	switch len(surfaces) {
	case 0:
		return alerting.NewMulti(a.Logger), nil
	case 1:
		return surfaces[0], nil
	default:
		return alerting.NewMulti(a.Logger, surfaces...), nil
	}
}

func (a *App) newSignal() (connectivity.Signal, *connectivity.Probe) {
	cfg := a.Config.Connectivity
	if cfg.ProbeURL == "" {
		return connectivity.NewStatic(true), nil
	}
	probe := connectivity.NewProbe(connectivity.ProbeOptions{
		URL:      cfg.ProbeURL,
		Interval: cfg.Interval,
		Timeout:  cfg.Timeout,
	}, a.Logger)
	return probe, probe
}

func (a *App) newFetcher(list []model.Account) fetcher.BalanceFetcher {
	cfg := a.Config.BalanceAPI
	if cfg.BaseURL == "" && len(list) > 0 {
		a.Logger.Warn().Msg("balance_api.base_url not configured; every account will report an error")
	}
	return fetcher.NewHTTP(fetcher.HTTPOptions{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.Logger)
}

// Run executes the long-running notification service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	var wg sync.WaitGroup
	if rt.probe != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rt.probe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("connectivity probe stopped")
			}
		}()
	}

	if err := rt.service.Initialize(ctx, rt.accounts); err != nil {
		return err
	}
	if !rt.settings.Get(ctx).Enabled {
		a.Logger.Warn().Msg("notifications are disabled; run `balancewatch enable` to turn them on")
	}

	a.Logger.Info().Int("accounts", len(rt.accounts)).Str("storage", a.Config.Storage.Driver).Msg("starting notification service")

	ticker := time.NewTicker(a.Config.Scheduler.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			a.Logger.Info().Msg("notification service stopped")
			return nil
		case <-ticker.C:
			if err := rt.service.Reconcile(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("failed to sync scheduler with settings")
			}
		}
	}
}
