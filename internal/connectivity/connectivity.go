package connectivity

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOffline is returned by operations that refuse to run without connectivity.
var ErrOffline = errors.New("connectivity: offline")

// Signal reports connectivity and notifies subscribers on transitions.
type Signal interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

// Static is a settable Signal.
type Static struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewStatic returns a signal in the given state.
func NewStatic(online bool) *Static {
	return &Static{online: online, subs: make(map[int]func(bool))}
}

func (s *Static) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Static) Subscribe(fn func(bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Set changes the state and notifies subscribers if it actually changed.
func (s *Static) Set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// ProbeOptions configure the HTTP probe.
type ProbeOptions struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
}

// Probe polls a URL and reports reachability as a Signal.
type Probe struct {
	*Static
	opts   ProbeOptions
	client *http.Client
	logger zerolog.Logger
}

// NewProbe constructs a probe. It starts out online until the first check says otherwise.
func NewProbe(opts ProbeOptions, logger zerolog.Logger) *Probe {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Probe{
		Static: NewStatic(true),
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "connectivity").Logger(),
	}
}

// Run blocks, probing at each interval until ctx is cancelled.
func (p *Probe) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check performs one probe and updates the state.
func (p *Probe) Check(ctx context.Context) bool {
	online := p.reachable(ctx)
	if online != p.Online() {
		p.logger.Info().Bool("online", online).Str("url", p.opts.URL).Msg("connectivity changed")
	}
	p.Set(online)
	return online
}

func (p *Probe) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.opts.URL, nil)
	if err != nil {
		p.logger.Error().Err(err).Msg("invalid probe request")
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Msg("probe failed")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

var (
	_ Signal = (*Static)(nil)
	_ Signal = (*Probe)(nil)
)
