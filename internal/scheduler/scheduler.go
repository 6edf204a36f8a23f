package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"utility-balance-alerts/internal/clock"
)

// ErrNoJob is returned by ForceExecute before any job was registered.
var ErrNoJob = errors.New("scheduler: no job registered")

// Job is the daily check. Implementations must be comparable (pointer
// receivers) so that Start can recognise a repeated registration.
type Job interface {
	RunScheduledCheck(ctx context.Context) error
}

// CheckTracker reports whether today's check already ran.
type CheckTracker interface {
	WasDailyCheckPerformedToday(ctx context.Context) bool
}

// Options tune scheduler behaviour.
type Options struct {
	TickInterval time.Duration
}

// Status is a snapshot for display.
type Status struct {
	Running   bool
	Target    string
	StartedAt time.Time
	NextRun   time.Time
}

// Scheduler fires a Job at most once per day at a wall-clock minute in clock.Zone.
type Scheduler struct {
	opts    Options
	clock   clock.Clock
	tracker CheckTracker
	logger  zerolog.Logger

	mu        sync.Mutex
	job       Job
	at        clock.TimeOfDay
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	loopDone  chan struct{}
	lastFired string

	jobs sync.WaitGroup
}

// New constructs a Scheduler instance.
func New(opts Options, clk clock.Clock, tracker CheckTracker, logger zerolog.Logger) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Scheduler{
		opts:    opts,
		clock:   clk,
		tracker: tracker,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers job for the daily minute at and begins polling.
// Calling it again with the same job and time while running is a no-op;
// anything else stops the previous loop first.
func (s *Scheduler) Start(ctx context.Context, job Job, at clock.TimeOfDay) error {
	if job == nil {
		return fmt.Errorf("scheduler: job is required")
	}

	s.mu.Lock()
	if s.running && s.job == job && s.at == at {
		s.mu.Unlock()
		s.logger.Debug().Str("target", at.String()).Msg("scheduler already running; start ignored")
		return nil
	}
	prevDone := s.loopDone
	if s.cancel != nil {
		s.cancel()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.job = job
	s.at = at
	s.running = true
	s.startedAt = s.clock.Now()
	s.cancel = cancel
	s.loopDone = done
	s.mu.Unlock()

	if prevDone != nil {
		<-prevDone
	}

	s.logger.Info().Str("target", at.String()).Time("next_run", NextRun(s.clock.Now(), at)).Msg("scheduler started")
	go s.loop(loopCtx, done)
	return nil
}

// Stop cancels the polling loop. Jobs already running continue to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	wasRunning := s.running
	s.running = false
	s.cancel = nil
	s.loopDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if wasRunning {
		s.logger.Info().Msg("scheduler stopped")
	}
}

// Wait blocks until in-flight jobs have returned.
func (s *Scheduler) Wait() {
	s.jobs.Wait()
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{Running: s.running, StartedAt: s.startedAt}
	if s.job != nil {
		status.Target = s.at.String()
		status.NextRun = NextRun(s.clock.Now(), s.at)
	}
	return status
}

// NextScheduledTime is the next occurrence of the registered minute.
func (s *Scheduler) NextScheduledTime() time.Time {
	s.mu.Lock()
	at := s.at
	s.mu.Unlock()
	return NextRun(s.clock.Now(), at)
}

// TimeUntilNext is the duration until NextScheduledTime.
func (s *Scheduler) TimeUntilNext() time.Duration {
	now := s.clock.Now()
	s.mu.Lock()
	at := s.at
	s.mu.Unlock()
	return NextRun(now, at).Sub(now)
}

// ForceExecute runs the registered job synchronously, bypassing the time gate.
func (s *Scheduler) ForceExecute(ctx context.Context) error {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()
	if job == nil {
		return ErrNoJob
	}
	s.logger.Info().Msg("forced execution")
	return job.RunScheduledCheck(ctx)
}

// NextRun returns the next time at falls on or after now, rolling to tomorrow
// when today's minute has already started.
func NextRun(now time.Time, at clock.TimeOfDay) time.Time {
	candidate := at.On(now)
	if !candidate.After(now) {
		candidate = at.On(now.In(clock.Zone).AddDate(0, 0, 1))
	}
	return candidate
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		if s.loopDone == done {
			s.running = false
			s.cancel = nil
			s.loopDone = nil
		}
		s.mu.Unlock()
	}()

	s.evaluate(ctx)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

// evaluate 检查当前分钟是否命中目标时间，命中且当天未检查时异步执行任务。
func (s *Scheduler) evaluate(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	job, at := s.job, s.at
	key := clock.DateKey(now) + " " + at.String()
	if !at.Matches(now) || s.lastFired == key {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.tracker != nil && s.tracker.WasDailyCheckPerformedToday(ctx) {
		s.logger.Debug().Str("date", clock.DateKey(now)).Msg("daily check already performed")
		return
	}

	s.mu.Lock()
	if s.lastFired == key || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.lastFired = key
	s.mu.Unlock()

	s.logger.Info().Time("at", now).Msg("executing scheduled check")
	s.runAsync(ctx, job)
}

func (s *Scheduler) runAsync(ctx context.Context, job Job) {
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Msg("scheduled check panicked")
			}
		}()

		if err := job.RunScheduledCheck(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error().Err(err).Msg("scheduled check failed")
		}
	}()
}
