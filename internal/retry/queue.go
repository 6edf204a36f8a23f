package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"utility-balance-alerts/internal/alerting"
	"utility-balance-alerts/internal/clock"
	"utility-balance-alerts/internal/connectivity"
	"utility-balance-alerts/internal/fetcher"
	"utility-balance-alerts/internal/model"
	"utility-balance-alerts/internal/storage"
)

const (
	// QueueKey holds pending deliveries.
	QueueKey = "balancewatch.queue"
	// ErrorsKey holds the diagnostic error log.
	ErrorsKey = "balancewatch.errors"
)

// Recorder keeps redelivered alerts in the daily notification history.
type Recorder interface {
	RecordNotification(ctx context.Context, accountNo string, typ model.NotificationType, balance, threshold *decimal.Decimal) string
}

// Options bound the queue and pace redelivery.
type Options struct {
	MaxQueueSize int
	MaxErrors    int
	MaxRetries   int
	ItemDelay    time.Duration
	// Recorder, when set, is told about every successful redelivery.
	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = 100
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = 50
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.ItemDelay < 0 {
		o.ItemDelay = 0
	}
	return o
}

// Report summarises one drain.
type Report struct {
	Attempted int
	Delivered int
	Dropped   int
	Remaining int
}

// Queue persists failed deliveries and the error log, and redelivers when online.
// All persistence failures are logged and swallowed.
type Queue struct {
	kv      storage.Store
	surface alerting.Surface
	signal  connectivity.Signal
	clock   clock.Clock
	opts    Options
	logger  zerolog.Logger

	mu       sync.Mutex
	draining atomic.Bool

	lifecycle   sync.Mutex
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New constructs a retry queue.
func New(kv storage.Store, surface alerting.Surface, signal connectivity.Signal, clk clock.Clock, opts Options, logger zerolog.Logger) *Queue {
	if clk == nil {
		clk = clock.System{}
	}
	return &Queue{
		kv:      kv,
		surface: surface,
		signal:  signal,
		clock:   clk,
		opts:    opts.withDefaults(),
		logger:  logger.With().Str("component", "retry_queue").Logger(),
	}
}

// Classify maps an error onto the error taxonomy.
func Classify(err error) model.ErrorType {
	if err == nil {
		return model.ErrorUnknown
	}
	if errors.Is(err, alerting.ErrPermissionDenied) || errors.Is(err, alerting.ErrUnsupported) {
		return model.ErrorPermission
	}
	if errors.Is(err, connectivity.ErrOffline) {
		return model.ErrorNetwork
	}
	var apiErr *fetcher.APIError
	if errors.As(err, &apiErr) {
		return model.ErrorAPI
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.ErrorNetwork
	}
	return model.ErrorUnknown
}

// HandleError records err in the error log and returns the entry id.
// An empty typ is classified from err.
func (q *Queue) HandleError(ctx context.Context, err error, typ model.ErrorType, accountNo string, details map[string]string) string {
	if typ == "" {
		typ = Classify(err)
	}
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	return q.logError(ctx, model.ErrorEntry{
		Type:       typ,
		Message:    message,
		AccountNo:  accountNo,
		MaxRetries: q.opts.MaxRetries,
		Context:    details,
	})
}

func (q *Queue) logError(ctx context.Context, entry model.ErrorEntry) string {
	entry.ID = uuid.NewString()
	entry.Timestamp = q.clock.Now()

	q.logger.Error().
		Str("error_type", string(entry.Type)).
		Str("account", entry.AccountNo).
		Int("retry_count", entry.RetryCount).
		Msg(entry.Message)

	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.loadErrors(ctx)
	entries = append([]model.ErrorEntry{entry}, entries...)
	if len(entries) > q.opts.MaxErrors {
		entries = entries[:q.opts.MaxErrors]
	}
	q.save(ctx, ErrorsKey, entries)
	return entry.ID
}

// QueueNotification enqueues a pending delivery and returns its id.
func (q *Queue) QueueNotification(ctx context.Context, accountNo string, typ model.NotificationType, message string, data map[string]string) string {
	item := model.QueuedNotification{
		ID:         uuid.NewString(),
		AccountNo:  accountNo,
		Type:       typ,
		Message:    message,
		Timestamp:  q.clock.Now(),
		MaxRetries: q.opts.MaxRetries,
		Data:       data,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items := append(q.loadQueue(ctx), item)
	if overflow := len(items) - q.opts.MaxQueueSize; overflow > 0 {
		q.logger.Warn().Int("dropped", overflow).Msg("retry queue full; dropping oldest")
		items = items[overflow:]
	}
	q.save(ctx, QueueKey, items)

	q.logger.Info().Str("account", accountNo).Str("type", string(typ)).Msg("notification queued for retry")
	return item.ID
}

// ProcessQueue redelivers queued items in order. It is a no-op when offline
// or when another drain is already running.
func (q *Queue) ProcessQueue(ctx context.Context) Report {
	var report Report
	if q.signal != nil && !q.signal.Online() {
		q.logger.Debug().Msg("offline; skipping queue drain")
		return report
	}
	if !q.draining.CompareAndSwap(false, true) {
		q.logger.Debug().Msg("queue drain already in progress")
		return report
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	pending := q.loadQueue(ctx)
	q.mu.Unlock()

	for i, item := range pending {
		if i > 0 && !q.sleep(ctx) {
			break
		}
		if q.signal != nil && !q.signal.Online() {
			q.logger.Info().Msg("went offline during drain; stopping")
			break
		}

		report.Attempted++
		err := q.surface.Show(ctx, item.Type.Title(), item.Message, alerting.Options{
			Tag:  string(item.Type),
			Data: item.Data,
		})
		if err == nil {
			q.remove(ctx, item.ID)
			q.recordDelivery(ctx, item)
			report.Delivered++
			continue
		}
		if q.recordFailure(ctx, item, err) {
			report.Dropped++
		}
	}

	q.mu.Lock()
	report.Remaining = len(q.loadQueue(ctx))
	q.mu.Unlock()

	if report.Attempted > 0 {
		q.logger.Info().
			Int("attempted", report.Attempted).
			Int("delivered", report.Delivered).
			Int("dropped", report.Dropped).
			Int("remaining", report.Remaining).
			Msg("retry queue drained")
	}
	return report
}

func (q *Queue) recordDelivery(ctx context.Context, item model.QueuedNotification) {
	if q.opts.Recorder == nil {
		return
	}
	q.opts.Recorder.RecordNotification(ctx, item.AccountNo, item.Type, q.amount(item, "balance"), q.amount(item, "threshold"))
}

func (q *Queue) amount(item model.QueuedNotification, key string) *decimal.Decimal {
	raw, ok := item.Data[key]
	if !ok || raw == "" {
		return nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		q.logger.Warn().Err(err).Str("account", item.AccountNo).Str("field", key).Msg("unreadable amount on queued notification")
		return nil
	}
	return &value
}

// recordFailure bumps the retry count and drops the item once it reaches the bound.
func (q *Queue) recordFailure(ctx context.Context, item model.QueuedNotification, cause error) bool {
	q.mu.Lock()
	items := q.loadQueue(ctx)
	idx := indexOf(items, item.ID)
	if idx < 0 {
		q.mu.Unlock()
		return false
	}

	items[idx].RetryCount++
	current := items[idx]
	dropped := current.RetryCount >= current.MaxRetries
	if dropped {
		items = append(items[:idx], items[idx+1:]...)
	}
	q.save(ctx, QueueKey, items)
	q.mu.Unlock()

	if !dropped {
		q.logger.Warn().Err(cause).Str("account", item.AccountNo).Int("retry_count", current.RetryCount).Msg("redelivery failed")
		return false
	}

	typ := Classify(cause)
	if typ == model.ErrorUnknown {
		typ = model.ErrorNetwork
	}
	q.logError(ctx, model.ErrorEntry{
		Type:       typ,
		Message:    fmt.Sprintf("notification dropped after %d retries: %v", current.RetryCount, cause),
		AccountNo:  item.AccountNo,
		RetryCount: current.RetryCount,
		MaxRetries: current.MaxRetries,
		Context: map[string]string{
			"notificationId": item.ID,
			"type":           string(item.Type),
			"queuedAt":       item.Timestamp.Format(time.RFC3339),
			"retries":        strconv.Itoa(current.RetryCount),
		},
	})
	return true
}

func (q *Queue) remove(ctx context.Context, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.loadQueue(ctx)
	if idx := indexOf(items, id); idx >= 0 {
		items = append(items[:idx], items[idx+1:]...)
		q.save(ctx, QueueKey, items)
	}
}

// HandleOnlineStatusChange drains on reconnect and only logs on disconnect.
func (q *Queue) HandleOnlineStatusChange(ctx context.Context, online bool) {
	if !online {
		q.logger.Warn().Msg("connectivity lost; deliveries will be queued")
		return
	}
	q.logger.Info().Msg("connectivity restored; draining retry queue")
	q.ProcessQueue(ctx)
}

// Initialize subscribes to connectivity transitions and drains once if online.
// Calling it again is a no-op.
func (q *Queue) Initialize(ctx context.Context) {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()
	if q.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	if q.signal != nil {
		q.unsubscribe = q.signal.Subscribe(func(online bool) {
			q.goDrain(runCtx, online)
		})
	}
	if q.signal == nil || q.signal.Online() {
		q.goDrain(runCtx, true)
	}
}

func (q *Queue) goDrain(ctx context.Context, online bool) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.HandleOnlineStatusChange(ctx, online)
	}()
}

// Wait blocks until background drains finish.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close unsubscribes, aborts pacing delays of a running drain and waits for it.
func (q *Queue) Close() {
	q.lifecycle.Lock()
	if q.unsubscribe != nil {
		q.unsubscribe()
		q.unsubscribe = nil
	}
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.lifecycle.Unlock()
	q.wg.Wait()
}

// Pending returns the queued deliveries, oldest first.
func (q *Queue) Pending(ctx context.Context) []model.QueuedNotification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadQueue(ctx)
}

// Errors returns the error log, newest first.
func (q *Queue) Errors(ctx context.Context) []model.ErrorEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadErrors(ctx)
}

// ClearErrors empties the error log.
func (q *Queue) ClearErrors(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.kv.Remove(ctx, ErrorsKey); err != nil {
		q.logger.Error().Err(err).Msg("failed to clear error log")
	}
}

// ClearQueue drops every pending delivery.
func (q *Queue) ClearQueue(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.kv.Remove(ctx, QueueKey); err != nil {
		q.logger.Error().Err(err).Msg("failed to clear retry queue")
	}
}

func (q *Queue) sleep(ctx context.Context) bool {
	if q.opts.ItemDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(q.opts.ItemDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (q *Queue) loadQueue(ctx context.Context) []model.QueuedNotification {
	var items []model.QueuedNotification
	if !q.load(ctx, QueueKey, &items) {
		return nil
	}
	return items
}

func (q *Queue) loadErrors(ctx context.Context) []model.ErrorEntry {
	var entries []model.ErrorEntry
	if !q.load(ctx, ErrorsKey, &entries) {
		return nil
	}
	return entries
}

func (q *Queue) load(ctx context.Context, key string, target any) bool {
	raw, found, err := q.kv.Get(ctx, key)
	if err != nil {
		q.logger.Error().Err(err).Str("key", key).Msg("failed to read")
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		q.logger.Warn().Err(err).Str("key", key).Msg("corrupt value; starting empty")
		return false
	}
	return true
}

func (q *Queue) save(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		q.logger.Error().Err(err).Str("key", key).Msg("failed to encode")
		return
	}
	if err := q.kv.Set(ctx, key, string(payload)); err != nil {
		q.logger.Error().Err(err).Str("key", key).Msg("failed to persist")
	}
}

func indexOf(items []model.QueuedNotification, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}
