// Package alertingtest provides an in-memory delivery surface for tests.
package alertingtest

import (
	"context"
	"sync"

	"utility-balance-alerts/internal/alerting"
)

// Delivery is one captured Show call.
type Delivery struct {
	Title   string
	Body    string
	Options alerting.Options
}

// Recorder captures deliveries and can be told to fail.
type Recorder struct {
	mu         sync.Mutex
	permission alerting.Permission
	onRequest  alerting.Permission
	failWith   error
	deliveries []Delivery
	attempts   int
}

// NewRecorder returns a granted surface.
func NewRecorder() *Recorder {
	return &Recorder{permission: alerting.PermissionGranted, onRequest: alerting.PermissionGranted}
}

func (r *Recorder) Name() string { return "recorder" }

// SetPermission changes the current status.
func (r *Recorder) SetPermission(status alerting.Permission) {
	r.mu.Lock()
	r.permission = status
	r.mu.Unlock()
}

// SetRequestOutcome sets what RequestPermission will grant.
func (r *Recorder) SetRequestOutcome(status alerting.Permission) {
	r.mu.Lock()
	r.onRequest = status
	r.mu.Unlock()
}

// FailWith makes every Show return err; nil restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

func (r *Recorder) PermissionStatus() alerting.Permission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permission
}

func (r *Recorder) RequestPermission(context.Context) (alerting.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permission = r.onRequest
	return r.permission, nil
}

func (r *Recorder) Show(_ context.Context, title, body string, opts alerting.Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failWith != nil {
		return r.failWith
	}
	r.deliveries = append(r.deliveries, Delivery{Title: title, Body: body, Options: opts})
	return nil
}

// Deliveries returns a copy of successful deliveries.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// Attempts counts every Show call, failed or not.
func (r *Recorder) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

var _ alerting.Surface = (*Recorder)(nil)
