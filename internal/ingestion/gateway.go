// Package ingestion accepts what the in-page recorder reports: events,
// status requests and browser details. It never touches the browser.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"webtestflow/recorder/internal/metrics"
	"webtestflow/recorder/internal/models"
	"webtestflow/recorder/internal/recorder"
)

type Config struct {
	// RateLimit is the sustained events per second accepted per session;
	// zero disables limiting.
	RateLimit float64
	Burst     int
}

type Gateway struct {
	ctrl    *recorder.Controller
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	newID   func() string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewGateway(ctrl *recorder.Controller, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 50
	}
	return &Gateway{
		ctrl:     ctrl,
		cfg:      cfg,
		logger:   logger.Named("ingestion"),
		metrics:  m,
		newID:    uuid.NewString,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (g *Gateway) allow(key string) bool {
	if g.cfg.RateLimit <= 0 {
		return true
	}
	g.mu.Lock()
	l, ok := g.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(g.cfg.RateLimit), g.cfg.Burst)
		g.limiters[key] = l
	}
	g.mu.Unlock()
	return l.Allow()
}

// ProcessEvent validates payload, appends it to the session and returns
// the event id.
func (g *Gateway) ProcessEvent(ctx context.Context, key string, payload []byte) (string, error) {
	sess, err := g.ctrl.Registry().Get(key)
	if err != nil {
		g.metrics.EventRejected("not_found")
		return "", err
	}
	if !g.allow(key) {
		g.metrics.EventRejected("rate_limited")
		return "", fmt.Errorf("%w: session %s", models.ErrRateLimited, key)
	}

	ev, err := models.DecodeEvent(payload, g.newID)
	if err != nil {
		reason := "invalid_payload"
		if errors.Is(err, models.ErrUnsupportedEventType) {
			reason = "unsupported_type"
		}
		g.metrics.EventRejected(reason)
		g.logger.Debug("event rejected", zap.String("session_id", key), zap.Error(err))
		return "", err
	}

	id, appended, err := sess.AppendEvent(ev)
	if err != nil {
		g.metrics.EventRejected("not_found")
		return "", err
	}
	if appended {
		g.metrics.EventIngested(string(ev.Base().Type))
		g.ctrl.Publish(key, recorder.NotifyEvent, ev)
	}
	return id, nil
}

// UpdateStatus applies a status requested by the page.
func (g *Gateway) UpdateStatus(ctx context.Context, key, status string) (models.SessionSnapshot, error) {
	st, ok := models.ParseRecordingStatus(status)
	if !ok {
		return models.SessionSnapshot{}, fmt.Errorf("%w: %q", models.ErrUnknownStatus, status)
	}
	g.logger.Info("status requested by page", zap.String("session_id", key), zap.String("status", string(st)))
	return g.ctrl.ApplyStatus(ctx, key, st)
}

// RequestReinjection forwards a page's report that the recorder is no
// longer active.
func (g *Gateway) RequestReinjection(ctx context.Context, key string) error {
	if err := g.ctrl.RequestReinjection(key); err != nil {
		return err
	}
	g.logger.Info("reinjection requested by page", zap.String("session_id", key))
	return nil
}

// ProcessBrowserInfo records browser details if the session still exists
// and has none yet. It never fails.
func (g *Gateway) ProcessBrowserInfo(ctx context.Context, key string, payload []byte) {
	sess, err := g.ctrl.Registry().Get(key)
	if err != nil {
		return
	}
	var m models.BrowserMetadata
	if err := json.Unmarshal(payload, &m); err != nil {
		g.logger.Debug("ignoring malformed browser info", zap.String("session_id", key), zap.Error(err))
		return
	}
	if sess.SetBrowserMetadata(m) {
		g.ctrl.Publish(key, recorder.NotifyBrowserInfo, m)
	}
}

// Info returns the snapshot of an active or archived session.
func (g *Gateway) Info(key string) (models.SessionSnapshot, error) {
	sess, err := g.ctrl.Lookup(key)
	if err != nil {
		return models.SessionSnapshot{}, err
	}
	return sess.Snapshot(), nil
}

// Prune drops rate limiters of sessions that are no longer active.
func (g *Gateway) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for key := range g.limiters {
		if _, err := g.ctrl.Registry().Get(key); err != nil {
			delete(g.limiters, key)
			n++
		}
	}
	return n
}
