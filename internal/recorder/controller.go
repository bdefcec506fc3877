// Package recorder owns recording sessions: their registry, lifecycle and
// the notifications they produce.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"webtestflow/recorder/internal/injection"
	"webtestflow/recorder/internal/metrics"
	"webtestflow/recorder/internal/models"
	"webtestflow/recorder/internal/supervisor"
	"webtestflow/recorder/pkg/driver"
	"webtestflow/recorder/pkg/hooktoken"
)

const (
	outcomeCompleted = "completed"
	outcomeClosed    = "closed"
	outcomeError     = "error"

	releaseTimeout = 10 * time.Second
)

// Injector is everything the controller asks of the injection layer.
type Injector interface {
	supervisor.Injector
	SetPaused(ctx context.Context, d driver.Driver, params injection.Params) error
	Teardown(ctx context.Context, d driver.Driver) error
	BrowserMetadata(ctx context.Context, d driver.Driver) (models.BrowserMetadata, error)
}

type Config struct {
	Defaults    models.SessionDefaults
	MaxSessions int
	// CallbackURL is the absolute URL the hook routes are mounted under,
	// as seen from the recorded page.
	CallbackURL  string
	ProbeTimeout time.Duration
	Supervisor   supervisor.Config
}

// Controller drives every session through its lifecycle.
type Controller struct {
	cfg        Config
	registry   *Registry
	archive    *Archive
	hub        *Hub
	factory    driver.Factory
	injector   Injector
	supervisor *supervisor.Supervisor
	signer     *hooktoken.Signer
	logger     *zap.Logger
	metrics    *metrics.Metrics

	cancel context.CancelFunc
	newID  func() string
	now    func() time.Time
}

// Deps groups the collaborators of a Controller.
type Deps struct {
	Factory  driver.Factory
	Injector Injector
	Archive  *Archive
	Hub      *Hub
	Signer   *hooktoken.Signer
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

func NewController(cfg Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	cfg.CallbackURL = strings.TrimRight(cfg.CallbackURL, "/")
	if deps.Archive == nil {
		deps.Archive = NewArchive(0)
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(0, logger)
	}

	base, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		registry: NewRegistry(),
		archive:  deps.Archive,
		hub:      deps.Hub,
		factory:  deps.Factory,
		injector: deps.Injector,
		signer:   deps.Signer,
		logger:   logger.Named("recorder"),
		metrics:  deps.Metrics,
		cancel:   cancel,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	c.supervisor = supervisor.New(base, cfg.Supervisor, deps.Injector, c, logger, deps.Metrics)
	return c
}

func (c *Controller) Registry() *Registry { return c.registry }

func (c *Controller) Archive() *Archive { return c.archive }

func (c *Controller) Hub() *Hub { return c.hub }

// Lookup finds a session among the active ones first, then the archive.
func (c *Controller) Lookup(id string) (*Session, error) {
	sess, err := c.registry.Get(id)
	if err == nil {
		return sess, nil
	}
	if archived, ok := c.archive.Get(id); ok {
		return archived, nil
	}
	return nil, err
}

func (c *Controller) driverOptions(cfg models.SessionConfig) driver.Options {
	return driver.Options{
		Kind:              string(cfg.BrowserKind),
		Headless:          cfg.IsHeadless(),
		Width:             cfg.Viewport.Width,
		Height:            cfg.Viewport.Height,
		Device:            cfg.Device,
		UserAgent:         cfg.UserAgent,
		Env:               cfg.Environment,
		NavigationTimeout: cfg.NavigationTimeout.Std(),
		ScriptTimeout:     cfg.ScriptTimeout.Std(),
		ProbeTimeout:      c.cfg.ProbeTimeout,
	}
}

func (c *Controller) hookURL(id, hook, token string) string {
	u := fmt.Sprintf("%s/hooks/%s/%s", c.cfg.CallbackURL, url.PathEscape(id), hook)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func (c *Controller) injectionParams(id string) (injection.Params, error) {
	var token string
	if c.signer.Enabled() {
		var err error
		if token, err = c.signer.Issue(id); err != nil {
			return injection.Params{}, err
		}
	}
	return injection.Params{
		SessionID:      id,
		EventURL:       c.hookURL(id, "event", token),
		StatusURL:      c.hookURL(id, "status", token),
		BrowserInfoURL: c.hookURL(id, "browser-info", token),
		ReinjectURL:    c.hookURL(id, "reinject", token),
	}, nil
}

// Start creates a session, opens its browser on the base URL and installs
// the recorder. A failure leaves the session archived in ERROR.
func (c *Controller) Start(ctx context.Context, cfg models.SessionConfig) (models.SessionSnapshot, error) {
	cfg = cfg.WithDefaults(c.cfg.Defaults)
	sess := newSession(c.newID(), cfg, c.now())
	if err := c.registry.Add(sess, c.cfg.MaxSessions); err != nil {
		return models.SessionSnapshot{}, err
	}
	c.metrics.SetActiveSessions(c.registry.Len())

	log := c.logger.With(zap.String("session_id", sess.ID()), zap.String("browser", string(cfg.BrowserKind)))
	sess.ops.Lock()
	defer sess.ops.Unlock()

	if err := c.start(ctx, sess, log); err != nil {
		c.fail(ctx, sess, err, log)
		return sess.Snapshot(), err
	}
	log.Info("recording started", zap.String("url", cfg.BaseURL), zap.Bool("degraded", sess.Snapshot().Degraded))
	return sess.Snapshot(), nil
}

func (c *Controller) start(ctx context.Context, sess *Session, log *zap.Logger) error {
	cfg := sess.Config()
	if err := sess.transition(models.StatusInitializing); err != nil {
		return err
	}
	c.notifyStatus(sess)

	d, err := c.factory.New(sess.ID(), c.driverOptions(cfg))
	if err != nil {
		return err
	}
	sess.attach(d)

	if err := d.Start(ctx, cfg.StartTimeout.Std()); err != nil {
		return err
	}
	if !cfg.Viewport.IsZero() && cfg.Device == "" {
		if err := d.SetViewport(ctx, cfg.Viewport.Width, cfg.Viewport.Height); err != nil {
			log.Debug("viewport not applied", zap.Error(err))
		}
	}

	if err := d.Navigate(ctx, cfg.BaseURL); err != nil {
		return err
	}
	sess.setLocation(cfg.BaseURL, "")
	sess.SwapDomain(supervisor.ExtractDomain(cfg.BaseURL))

	c.probeMetadata(ctx, sess, d, log)

	params, err := c.injectionParams(sess.ID())
	if err != nil {
		return fmt.Errorf("issue hook token: %w", err)
	}
	sess.setParams(params)

	res, err := c.injector.InjectWithRetry(ctx, d, sess.InjectionParams(), cfg.InjectionAttempts)
	sess.RecordInjection(res, err)
	c.publish(sess.ID(), NotifyInjection, res)
	if err != nil {
		if !errors.Is(err, models.ErrInjectionExhausted) {
			return err
		}
		log.Warn("recorder not verified, continuing degraded", zap.Int("attempts", res.Attempts))
	}

	c.supervisor.Spawn(sess)
	if err := sess.transition(models.StatusRecording); err != nil {
		c.supervisor.Stop(sess.ID())
		return err
	}
	c.notifyStatus(sess)
	return nil
}

func (c *Controller) probeMetadata(ctx context.Context, sess *Session, d driver.Driver, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	m, err := c.injector.BrowserMetadata(ctx, d)
	if err != nil {
		log.Debug("browser metadata unavailable", zap.Error(err))
		return
	}
	if sess.SetBrowserMetadata(m) {
		c.publish(sess.ID(), NotifyBrowserInfo, m)
	}
}

func (c *Controller) fail(ctx context.Context, sess *Session, cause error, log *zap.Logger) {
	log.Error("failed to start recording", zap.Error(cause))
	sess.recordError(cause)
	c.release(ctx, sess, log)

	c.archive.Put(sess)
	if _, removed := c.registry.Remove(sess.ID()); !removed {
		return
	}
	if err := sess.transition(models.StatusError); err != nil {
		log.Debug("session already finished", zap.Error(err))
		return
	}
	c.finish(sess, outcomeError)
}

// release stops the session's browser, bounded by releaseTimeout.
func (c *Controller) release(ctx context.Context, sess *Session, log *zap.Logger) {
	d := sess.Driver()
	if d == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		log.Warn("failed to stop browser", zap.Error(err))
	}
}

func (c *Controller) finish(sess *Session, outcome string) {
	c.notifyStatus(sess)
	c.metrics.SessionFinished(outcome)
	c.metrics.SetActiveSessions(c.registry.Len())
}

// Pause stops event capture in the page. Pausing a paused session is a
// no-op.
func (c *Controller) Pause(ctx context.Context, id string) (models.SessionSnapshot, error) {
	return c.setPaused(ctx, id, true)
}

func (c *Controller) Resume(ctx context.Context, id string) (models.SessionSnapshot, error) {
	return c.setPaused(ctx, id, false)
}

func (c *Controller) setPaused(ctx context.Context, id string, paused bool) (models.SessionSnapshot, error) {
	sess, err := c.registry.Get(id)
	if err != nil {
		return models.SessionSnapshot{}, err
	}
	sess.ops.Lock()
	defer sess.ops.Unlock()

	target := models.StatusRecording
	if paused {
		target = models.StatusPaused
	}
	if sess.Status() == target {
		return sess.Snapshot(), nil
	}
	if err := sess.transition(target); err != nil {
		return sess.Snapshot(), err
	}

	if d := sess.Driver(); d != nil {
		if err := c.injector.SetPaused(ctx, d, sess.InjectionParams()); err != nil {
			sess.recordError(err)
			if driver.IsClosedError(err) {
				c.HandleBrowserClosed(id, err)
				return sess.Snapshot(), nil
			}
			c.logger.Warn("in-page pause flag not updated", zap.String("session_id", id), zap.Error(err))
		}
	}
	c.notifyStatus(sess)
	return sess.Snapshot(), nil
}

// Stop finishes a session: loops first, then the page, then the browser.
// Stopping a session that already finished returns its final snapshot.
func (c *Controller) Stop(ctx context.Context, id string) (models.SessionSnapshot, error) {
	sess, err := c.registry.Get(id)
	if err != nil {
		if archived, ok := c.archive.Get(id); ok {
			return archived.Snapshot(), nil
		}
		return models.SessionSnapshot{}, err
	}
	sess.ops.Lock()
	defer sess.ops.Unlock()
	return c.stop(ctx, sess)
}

func (c *Controller) stop(ctx context.Context, sess *Session) (models.SessionSnapshot, error) {
	id := sess.ID()
	log := c.logger.With(zap.String("session_id", id))

	if err := sess.transition(models.StatusStopping); err != nil {
		if sess.Status().Terminal() {
			return sess.Snapshot(), nil
		}
		return sess.Snapshot(), err
	}
	c.notifyStatus(sess)
	c.supervisor.Stop(id)

	if d := sess.Driver(); d != nil {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProbeTimeout)
		if err := c.injector.Teardown(tctx, d); err != nil {
			log.Debug("in-page teardown skipped", zap.Error(err))
		}
		cancel()
	}
	c.release(ctx, sess, log)

	c.archive.Put(sess)
	if _, removed := c.registry.Remove(id); !removed {
		return sess.Snapshot(), nil
	}
	if err := sess.transition(models.StatusCompleted); err != nil {
		log.Warn("unexpected state after stop", zap.Error(err))
	}
	c.finish(sess, outcomeCompleted)
	log.Info("recording stopped", zap.Int("events", sess.EventCount()))
	return sess.Snapshot(), nil
}

// HandleBrowserClosed completes a session whose browser went away. Only
// the first caller for a session does any work.
func (c *Controller) HandleBrowserClosed(id string, cause error) {
	sess, err := c.registry.Get(id)
	if err != nil {
		return
	}
	c.archive.Put(sess)
	c.supervisor.Cancel(id)
	if _, removed := c.registry.Remove(id); !removed {
		return
	}
	log := c.logger.With(zap.String("session_id", id))

	sess.recordError(cause)
	c.release(context.Background(), sess, log)
	if !sess.forceComplete() {
		return
	}

	c.publish(id, NotifyDisconnected, map[string]string{"reason": errString(cause)})
	c.metrics.BrowserClosed()
	c.finish(sess, outcomeClosed)
	log.Info("browser closed, session completed", zap.Int("events", sess.EventCount()), zap.Error(cause))
}

// ApplyStatus carries out a status change requested by the page.
func (c *Controller) ApplyStatus(ctx context.Context, id string, status models.RecordingStatus) (models.SessionSnapshot, error) {
	switch status {
	case models.StatusPaused:
		return c.Pause(ctx, id)
	case models.StatusRecording:
		return c.Resume(ctx, id)
	case models.StatusStopping, models.StatusCompleted:
		return c.Stop(ctx, id)
	default:
		if _, err := c.registry.Get(id); err != nil {
			return models.SessionSnapshot{}, err
		}
		return models.SessionSnapshot{}, fmt.Errorf("%w: cannot request %s", models.ErrInvalidStatusTransition, status)
	}
}

// RequestReinjection has the supervisor verify the recorder now, as asked
// by a page that lost its activation flag. Sessions without running loops
// are left alone.
func (c *Controller) RequestReinjection(id string) error {
	if _, err := c.registry.Get(id); err != nil {
		return err
	}
	if !c.supervisor.Nudge(id) {
		c.logger.Debug("reinjection request ignored, no loops running", zap.String("session_id", id))
	}
	return nil
}

// Screenshot captures the page, or one element when selector is set.
func (c *Controller) Screenshot(ctx context.Context, id, selector string) ([]byte, error) {
	sess, err := c.registry.Get(id)
	if err != nil {
		return nil, err
	}
	d := sess.Driver()
	if d == nil {
		return nil, fmt.Errorf("%w: browser not started", driver.ErrNotStarted)
	}
	var buf []byte
	if selector != "" {
		buf, err = d.CaptureElementScreenshot(ctx, selector)
	} else {
		buf, err = d.CaptureScreenshot(ctx)
	}
	if err != nil {
		c.observeDriverError(sess, err)
		return nil, err
	}
	return buf, nil
}

// Debug reports a session's internals, refreshing the page location when
// the browser is still live.
func (c *Controller) Debug(ctx context.Context, id string) (DebugInfo, error) {
	sess, err := c.registry.Get(id)
	if err != nil {
		archived, ok := c.archive.Get(id)
		if !ok {
			return DebugInfo{}, err
		}
		info := archived.debugInfo()
		info.Archived = true
		return info, nil
	}

	if d := sess.Driver(); d != nil && !sess.Status().Terminal() {
		pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
		u, uerr := d.CurrentURL(pctx)
		t, terr := d.Title(pctx)
		cancel()
		if uerr == nil || terr == nil {
			sess.setLocation(u, t)
		}
		if uerr != nil {
			c.observeDriverError(sess, uerr)
		}
	}
	return sess.debugInfo(), nil
}

// observeDriverError runs closure handling as soon as any driver call
// reports a closed window.
func (c *Controller) observeDriverError(sess *Session, err error) {
	sess.recordError(err)
	if driver.IsClosedError(err) {
		c.HandleBrowserClosed(sess.ID(), err)
	}
}

// StopExpired stops sessions running longer than maxAge and returns how
// many it stopped.
func (c *Controller) StopExpired(ctx context.Context, maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := c.now().Add(-maxAge)
	n := 0
	for _, sess := range c.registry.List() {
		if !sess.StartTime().Before(cutoff) {
			continue
		}
		c.logger.Info("stopping expired session", zap.String("session_id", sess.ID()),
			zap.Duration("age", c.now().Sub(sess.StartTime())))
		if _, err := c.Stop(ctx, sess.ID()); err != nil {
			c.logger.Warn("failed to stop expired session", zap.String("session_id", sess.ID()), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// Shutdown stops every active session and waits for all supervisor loops.
func (c *Controller) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	for _, sess := range c.registry.List() {
		id := sess.ID()
		g.Go(func() error {
			_, err := c.Stop(ctx, id)
			return err
		})
	}
	err := g.Wait()
	c.cancel()
	c.supervisor.Shutdown()
	return err
}

func (c *Controller) notifyStatus(sess *Session) {
	c.publish(sess.ID(), NotifyStatus, map[string]interface{}{
		"status":     sess.Status(),
		"eventCount": sess.EventCount(),
	})
}

func (c *Controller) publish(id string, t NotificationType, data interface{}) {
	c.hub.Publish(Notification{Type: t, SessionID: id, Data: data, Timestamp: c.now()})
}

// Publish forwards a notification produced outside the controller.
func (c *Controller) Publish(id string, t NotificationType, data interface{}) {
	c.publish(id, t, data)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
