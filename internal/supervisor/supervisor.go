// Package supervisor runs the per-session background loops that keep the
// recorder alive in the page and detect when the browser goes away.
package supervisor

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"webtestflow/recorder/internal/injection"
	"webtestflow/recorder/internal/metrics"
	"webtestflow/recorder/pkg/driver"
)

// Session is the view of a recording session the loops need.
type Session interface {
	ID() string
	Driver() driver.Driver
	InjectionParams() injection.Params
	// SwapDomain stores domain and returns the previous value.
	SwapDomain(domain string) string
	RecordInjection(res injection.Result, err error)
}

// ClosureHandler finalizes a session whose browser is gone. It must not
// wait for the calling loop to exit.
type ClosureHandler interface {
	HandleBrowserClosed(id string, cause error)
}

type Injector interface {
	InjectWithRetry(ctx context.Context, d driver.Driver, params injection.Params, maxAttempts int) (injection.Result, error)
	IsActive(ctx context.Context, d driver.Driver) (bool, error)
	EnsureMarker(ctx context.Context, d driver.Driver) error
}

type Config struct {
	HealthInterval       time.Duration
	HealthMaxRuns        int
	DomainInterval       time.Duration
	DomainFullCheckEvery int
	DomainMaxRuns        int
	ReinjectAttempts     int
}

func (c Config) withDefaults() Config {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.DomainInterval <= 0 {
		c.DomainInterval = time.Second
	}
	if c.DomainFullCheckEvery <= 0 {
		c.DomainFullCheckEvery = 10
	}
	return c
}

type loops struct {
	cancel context.CancelFunc
	done   chan struct{}
	// nudge asks the domain loop for an activation check out of turn.
	nudge chan struct{}
	// inject serializes reinjection between the health and domain loops.
	inject sync.Mutex
}

type Supervisor struct {
	base     context.Context
	cfg      Config
	injector Injector
	closer   ClosureHandler
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	groups map[string]*loops
	wg     sync.WaitGroup
}

// New returns a supervisor whose loops all derive from base.
func New(base context.Context, cfg Config, injector Injector, closer ClosureHandler, logger *zap.Logger, m *metrics.Metrics) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		base:     base,
		cfg:      cfg.withDefaults(),
		injector: injector,
		closer:   closer,
		logger:   logger.Named("supervisor"),
		metrics:  m,
		groups:   make(map[string]*loops),
	}
}

// Spawn starts the health and domain loops for sess. It is a no-op when the
// session already has loops.
func (s *Supervisor) Spawn(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := sess.ID()
	if _, ok := s.groups[id]; ok {
		return
	}

	ctx, cancel := context.WithCancel(s.base)
	l := &loops{cancel: cancel, done: make(chan struct{}), nudge: make(chan struct{}, 1)}
	s.groups[id] = l
	s.wg.Add(1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.healthLoop(gctx, sess, l) })
	g.Go(func() error { return s.domainLoop(gctx, sess, l) })

	go func() {
		defer s.wg.Done()
		defer close(l.done)
		_ = g.Wait()
		cancel()
		s.mu.Lock()
		if s.groups[id] == l {
			delete(s.groups, id)
		}
		s.mu.Unlock()
		s.logger.Debug("session loops exited", zap.String("session_id", id))
	}()
}

// Cancel stops a session's loops without waiting. Safe to call from inside
// a loop.
func (s *Supervisor) Cancel(id string) {
	s.mu.Lock()
	l, ok := s.groups[id]
	s.mu.Unlock()
	if ok {
		l.cancel()
	}
}

// Stop cancels a session's loops and waits for them to exit.
func (s *Supervisor) Stop(id string) {
	s.mu.Lock()
	l, ok := s.groups[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
}

// Nudge asks a session's loops to verify the recorder now instead of at the
// next full check. Requests made while one is pending are coalesced. It
// reports whether the session has loops.
func (s *Supervisor) Nudge(id string) bool {
	s.mu.Lock()
	l, ok := s.groups[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case l.nudge <- struct{}{}:
	default:
	}
	return true
}

func (s *Supervisor) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.groups[id]
	return ok
}

// Shutdown cancels every loop and waits for all of them.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for _, l := range s.groups {
		l.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ExtractDomain returns the lowercased host (with port) of rawURL, or ""
// for URLs without one such as about:blank.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

func (s *Supervisor) closed(sess Session, cause error) {
	s.logger.Info("browser closed, finalizing session",
		zap.String("session_id", sess.ID()), zap.Error(cause))
	s.closer.HandleBrowserClosed(sess.ID(), cause)
}

// reinject runs the orchestrator and reports whether the loop should stop.
func (s *Supervisor) reinject(ctx context.Context, sess Session, l *loops, reason string) bool {
	l.inject.Lock()
	defer l.inject.Unlock()
	if ctx.Err() != nil {
		return true
	}

	s.metrics.Reinjected(reason)
	s.logger.Info("reinjecting recorder", zap.String("session_id", sess.ID()), zap.String("reason", reason))
	res, err := s.injector.InjectWithRetry(ctx, sess.Driver(), sess.InjectionParams(), s.cfg.ReinjectAttempts)
	if ctx.Err() != nil {
		return true
	}
	sess.RecordInjection(res, err)
	if driver.IsClosedError(err) {
		s.closed(sess, err)
		return true
	}
	return false
}
