package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utility-balance-alerts/internal/alerting"
	"utility-balance-alerts/internal/alerting/alertingtest"
	"utility-balance-alerts/internal/clock"
	"utility-balance-alerts/internal/connectivity"
	"utility-balance-alerts/internal/fetcher"
	"utility-balance-alerts/internal/model"
	"utility-balance-alerts/internal/storage"
)

type fixture struct {
	queue   *Queue
	surface *alertingtest.Recorder
	signal  *connectivity.Static
	kv      *storage.Memory
}

func newFixture(t *testing.T, online bool) fixture {
	t.Helper()
	kv := storage.NewMemory()
	surface := alertingtest.NewRecorder()
	signal := connectivity.NewStatic(online)
	clk := clock.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, clock.Zone))
	q := New(kv, surface, signal, clk, Options{ItemDelay: time.Millisecond}, zerolog.Nop())
	t.Cleanup(q.Close)
	return fixture{queue: q, surface: surface, signal: signal, kv: kv}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, model.ErrorPermission, Classify(fmt.Errorf("x: %w", alerting.ErrPermissionDenied)))
	assert.Equal(t, model.ErrorPermission, Classify(alerting.ErrUnsupported))
	assert.Equal(t, model.ErrorNetwork, Classify(connectivity.ErrOffline))
	assert.Equal(t, model.ErrorNetwork, Classify(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, model.ErrorAPI, Classify(fmt.Errorf("fetch: %w", &fetcher.APIError{Status: 500})))
	assert.Equal(t, model.ErrorUnknown, Classify(errors.New("?")))
	assert.Equal(t, model.ErrorUnknown, Classify(nil))
}

func TestHandleErrorNewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	for i := 0; i < 55; i++ {
		f.queue.HandleError(ctx, fmt.Errorf("failure %d", i), model.ErrorAPI, "1001", nil)
	}

	entries := f.queue.Errors(ctx)
	require.Len(t, entries, 50)
	assert.Equal(t, "failure 54", entries[0].Message)
	assert.Equal(t, "failure 5", entries[49].Message)
	assert.Equal(t, model.ErrorAPI, entries[0].Type)

	id := f.queue.HandleError(ctx, alerting.ErrPermissionDenied, "", "", map[string]string{"op": "enable"})
	entries = f.queue.Errors(ctx)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, model.ErrorPermission, entries[0].Type)
	assert.Equal(t, "enable", entries[0].Context["op"])

	f.queue.ClearErrors(ctx)
	assert.Empty(t, f.queue.Errors(ctx))
}

func TestQueueNotificationCapsOldest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	var first string
	for i := 0; i < 101; i++ {
		id := f.queue.QueueNotification(ctx, fmt.Sprintf("acc-%d", i), model.LowBalance, "msg", nil)
		if i == 0 {
			first = id
		}
	}

	pending := f.queue.Pending(ctx)
	require.Len(t, pending, 100)
	assert.Equal(t, "acc-1", pending[0].AccountNo)
	assert.NotEqual(t, first, pending[0].ID)
	assert.Equal(t, 3, pending[0].MaxRetries)
}

func TestProcessQueueOfflineIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.queue.QueueNotification(ctx, "1001", model.LowBalance, "msg", nil)

	report := f.queue.ProcessQueue(ctx)
	assert.Equal(t, Report{}, report)
	assert.Equal(t, 0, f.surface.Attempts())
	assert.Len(t, f.queue.Pending(ctx), 1)
}

func TestProcessQueueDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.queue.QueueNotification(ctx, "1001", model.LowBalance, "first", map[string]string{"balance": "50.00"})
	f.queue.QueueNotification(ctx, "1002", model.DataUnavailable, "second", nil)

	report := f.queue.ProcessQueue(ctx)
	assert.Equal(t, Report{Attempted: 2, Delivered: 2}, report)
	assert.Empty(t, f.queue.Pending(ctx))

	deliveries := f.surface.Deliveries()
	require.Len(t, deliveries, 2)
	assert.Equal(t, "first", deliveries[0].Body)
	assert.Equal(t, model.LowBalance.Title(), deliveries[0].Title)
	assert.Equal(t, "50.00", deliveries[0].Options.Data["balance"])
	assert.Equal(t, "data_unavailable", deliveries[1].Options.Tag)
}

func TestRetryBoundDropsWithOneTerminalError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.surface.FailWith(errors.New("surface down"))
	f.queue.QueueNotification(ctx, "1001", model.LowBalance, "msg", nil)

	f.queue.ProcessQueue(ctx)
	pending := f.queue.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	f.queue.ProcessQueue(ctx)
	pending = f.queue.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)
	assert.Empty(t, f.queue.Errors(ctx))

	report := f.queue.ProcessQueue(ctx)
	assert.Equal(t, 1, report.Dropped)
	assert.Empty(t, f.queue.Pending(ctx))

	entries := f.queue.Errors(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ErrorNetwork, entries[0].Type)
	assert.Equal(t, 3, entries[0].RetryCount)
	assert.Equal(t, "1001", entries[0].AccountNo)

	// Nothing left to retry, so no further terminal entries appear.
	f.queue.ProcessQueue(ctx)
	assert.Len(t, f.queue.Errors(ctx), 1)
	assert.Equal(t, 3, f.surface.Attempts())
}

func TestInitializeDrainsAndReactsToReconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.queue.QueueNotification(ctx, "1001", model.LowBalance, "msg", nil)

	f.queue.Initialize(ctx)
	f.queue.Initialize(ctx)
	f.queue.Wait()
	assert.Equal(t, 0, f.surface.Attempts())

	f.signal.Set(true)
	f.queue.Wait()
	assert.Len(t, f.surface.Deliveries(), 1)
	assert.Empty(t, f.queue.Pending(ctx))

	// Loss of connectivity only logs.
	f.signal.Set(false)
	f.queue.Wait()
	assert.Equal(t, 1, f.surface.Attempts())
}

func TestInitializeDrainsImmediatelyWhenOnline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.queue.QueueNotification(ctx, "1001", model.LowBalance, "msg", nil)

	f.queue.Initialize(ctx)
	f.queue.Wait()
	assert.Len(t, f.surface.Deliveries(), 1)
}

func TestCorruptQueueStartsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	require.NoError(t, f.kv.Set(ctx, QueueKey, "{oops"))

	assert.Empty(t, f.queue.Pending(ctx))
	f.queue.QueueNotification(ctx, "1001", model.LowBalance, "msg", nil)
	assert.Len(t, f.queue.Pending(ctx), 1)
}

type recorded struct {
	accountNo string
	typ       model.NotificationType
	balance   *decimal.Decimal
	threshold *decimal.Decimal
}

type recorderFunc func(recorded)

func (f recorderFunc) RecordNotification(_ context.Context, accountNo string, typ model.NotificationType, balance, threshold *decimal.Decimal) string {
	f(recorded{accountNo: accountNo, typ: typ, balance: balance, threshold: threshold})
	return "rec-" + accountNo
}

func TestProcessQueueRecordsRedeliveries(t *testing.T) {
	ctx := context.Background()
	var got []recorded
	surface := alertingtest.NewRecorder()
	clk := clock.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, clock.Zone))
	q := New(storage.NewMemory(), surface, connectivity.NewStatic(true), clk, Options{
		Recorder: recorderFunc(func(r recorded) { got = append(got, r) }),
	}, zerolog.Nop())
	t.Cleanup(q.Close)

	q.QueueNotification(ctx, "1001", model.LowBalance, "low", map[string]string{"balance": "50.00", "threshold": "100.00"})
	q.QueueNotification(ctx, "1002", model.DataUnavailable, "gone", map[string]string{"balance": "n/a"})

	surface.FailWith(errors.New("bounce"))
	q.ProcessQueue(ctx)
	assert.Empty(t, got)

	surface.FailWith(nil)
	report := q.ProcessQueue(ctx)
	assert.Equal(t, 2, report.Delivered)

	require.Len(t, got, 2)
	assert.Equal(t, "1001", got[0].accountNo)
	assert.Equal(t, model.LowBalance, got[0].typ)
	require.NotNil(t, got[0].balance)
	assert.True(t, got[0].balance.Equal(decimal.NewFromInt(50)))
	require.NotNil(t, got[0].threshold)
	assert.True(t, got[0].threshold.Equal(decimal.NewFromInt(100)))

	assert.Equal(t, model.DataUnavailable, got[1].typ)
	assert.Nil(t, got[1].balance)
	assert.Nil(t, got[1].threshold)
}

type failingStore struct{ *storage.Memory }

func (failingStore) Set(context.Context, string, string) error { return errors.New("disk full") }

func TestPersistenceFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, clock.Zone))
	q := New(failingStore{storage.NewMemory()}, alertingtest.NewRecorder(), connectivity.NewStatic(false), clk, Options{}, zerolog.Nop())
	t.Cleanup(q.Close)

	var queued, logged string
	require.NotPanics(t, func() {
		queued = q.QueueNotification(ctx, "1001", model.LowBalance, "low", nil)
		logged = q.HandleError(ctx, errors.New("boom"), model.ErrorAPI, "1001", nil)
	})
	assert.NotEmpty(t, queued)
	assert.NotEmpty(t, logged)

	assert.Empty(t, q.Pending(ctx))
	assert.Empty(t, q.Errors(ctx))
}
