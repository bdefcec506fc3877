package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"webtestflow/recorder/internal/injection"
	"webtestflow/recorder/internal/injection/injectiontest"
	"webtestflow/recorder/internal/models"
	"webtestflow/recorder/internal/supervisor"
	"webtestflow/recorder/pkg/driver"
	"webtestflow/recorder/pkg/driver/drivertest"
	"webtestflow/recorder/pkg/hooktoken"
)

type fixture struct {
	ctrl    *Controller
	factory *drivertest.Factory
	sub     *Subscription
}

func newFixture(t *testing.T, cfg Config, signer *hooktoken.Signer, fakes ...*drivertest.Fake) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if cfg.CallbackURL == "" {
		cfg.CallbackURL = "http://127.0.0.1:8080/"
	}
	if cfg.Supervisor == (supervisor.Config{}) {
		cfg.Supervisor = supervisor.Config{HealthInterval: time.Hour, DomainInterval: time.Hour}
	}
	factory := drivertest.NewFactory(fakes...)
	orch := injection.NewOrchestrator(injection.NewAssets(nil, ""), injection.Config{MaxAttempts: 2}, logger, nil)
	hub := NewHub(256, logger)
	ctrl := NewController(cfg, Deps{
		Factory:  factory,
		Injector: orch,
		Hub:      hub,
		Signer:   signer,
		Logger:   logger,
	})
	f := &fixture{ctrl: ctrl, factory: factory, sub: hub.Subscribe("")}
	t.Cleanup(func() {
		_ = ctrl.Shutdown(context.Background())
		f.sub.Close()
	})
	return f
}

func (f *fixture) drain() []Notification {
	var out []Notification
	for {
		select {
		case n := <-f.sub.C:
			out = append(out, n)
		default:
			return out
		}
	}
}

func statuses(ns []Notification) []models.RecordingStatus {
	var out []models.RecordingStatus
	for _, n := range ns {
		if n.Type == NotifyStatus {
			out = append(out, n.Data.(map[string]interface{})["status"].(models.RecordingStatus))
		}
	}
	return out
}

func count(ns []Notification, t NotificationType) int {
	n := 0
	for _, x := range ns {
		if x.Type == t {
			n++
		}
	}
	return n
}

func TestStartBlankPage(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	page := injectiontest.NewPage()
	fake := page.Attach(drivertest.New())
	f := newFixture(t, Config{}, nil, fake)

	snap, err := f.ctrl.Start(context.Background(), models.SessionConfig{BaseURL: "about:blank"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusRecording, snap.Status)
	assert.False(t, snap.Degraded)
	navs := fake.Calls("navigate")
	require.Len(t, navs, 1)
	assert.Equal(t, "about:blank", navs[0].Arg)
	assert.True(t, page.Active())
	assert.True(t, page.Marker())
	require.NotNil(t, snap.BrowserMetadata)
	assert.Equal(t, "chrome", snap.BrowserMetadata.Browser)

	assert.Equal(t, []models.RecordingStatus{models.StatusInitializing, models.StatusRecording}, statuses(f.drain()))
}

func TestStartEmptyBaseURLUsesBlankPage(t *testing.T) {
	fake := injectiontest.NewPage().Attach(drivertest.New())
	f := newFixture(t, Config{}, nil, fake)

	_, err := f.ctrl.Start(context.Background(), models.SessionConfig{})
	require.NoError(t, err)
	require.Len(t, fake.Calls("navigate"), 1)
	assert.Equal(t, models.BlankPageURL, fake.Calls("navigate")[0].Arg)
}

func TestStartPassesDriverOptions(t *testing.T) {
	f := newFixture(t, Config{
		Defaults:     models.SessionDefaults{BrowserKind: models.BrowserChromium, Headless: true},
		ProbeTimeout: time.Second,
	}, nil, injectiontest.NewPage().Attach(drivertest.New()))

	_, err := f.ctrl.Start(context.Background(), models.SessionConfig{
		BaseURL:  "https://example.com/",
		Viewport: models.Viewport{Width: 390, Height: 844},
		Device:   "iPhone 12",
	})
	require.NoError(t, err)

	require.Len(t, f.factory.Opts, 1)
	opts := f.factory.Opts[0]
	assert.Equal(t, "chromium", opts.Kind)
	assert.True(t, opts.Headless)
	assert.Equal(t, 390, opts.Width)
	assert.Equal(t, "iPhone 12", opts.Device)
	assert.Equal(t, time.Second, opts.ProbeTimeout)
}

func TestStartEmbedsCallbackURLs(t *testing.T) {
	page := injectiontest.NewPage()
	fake := page.Attach(drivertest.New())
	signer := hooktoken.NewSigner("secret", time.Hour)
	f := newFixture(t, Config{CallbackURL: "http://recorder.local/api/"}, signer, fake)

	snap, err := f.ctrl.Start(context.Background(), models.SessionConfig{BaseURL: "https://example.com/"})
	require.NoError(t, err)

	sess, err := f.ctrl.Registry().Get(snap.ID)
	require.NoError(t, err)
	params := sess.InjectionParams()
	assert.Contains(t, params.EventURL, "http://recorder.local/api/hooks/"+snap.ID+"/event?token=")
	assert.Contains(t, params.StatusURL, "/hooks/"+snap.ID+"/status?token=")
	assert.Contains(t, params.ReinjectURL, "/hooks/"+snap.ID+"/reinject?token=")

	scripts := fake.Calls("inject_native")
	require.NotEmpty(t, scripts)
	assert.Contains(t, scripts[0].Arg, "/hooks/"+snap.ID+"/event")
}

func TestStartFailureEndsInError(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	fake := drivertest.New()
	fake.SetStartError(&driver.Error{Op: "start", Kind: driver.ErrDriverStart, Err: errors.New("chrome not found")})
	f := newFixture(t, Config{}, nil, fake)

	snap, err := f.ctrl.Start(context.Background(), models.SessionConfig{BaseURL: "https://example.com/"})
	require.ErrorIs(t, err, driver.ErrDriverStart)
	assert.Equal(t, models.StatusError, snap.Status)
	assert.NotNil(t, snap.EndTime)
	assert.Zero(t, f.ctrl.Registry().Len())
	assert.Equal(t, 1, fake.Count("stop"))
	assert.Zero(t, fake.Count("navigate"))

	sess, err := f.ctrl.Lookup(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, sess.Status())
	assert.Equal(t, []models.RecordingStatus{models.StatusInitializing, models.StatusError}, statuses(f.drain()))
}

func TestNavigationFailureEndsInError(t *testing.T) {
	fake := drivertest.New()
	fake.SetNavigateError(&driver.Error{Op: "navigate", Kind: driver.ErrNavigation, Err: errors.New("net::ERR_NAME_NOT_RESOLVED")})
	f := newFixture(t, Config{}, nil, fake)

	snap, err := f.ctrl.Start(context.Background(), models.SessionConfig{BaseURL: "https://nowhere.invalid/"})
	require.ErrorIs(t, err, driver.ErrNavigation)
	assert.Equal(t, models.StatusError, snap.Status)
	assert.False(t, fake.Started())
}

func TestInjectionExhaustedIsDegraded(t *testing.T) {
	page := injectiontest.NewPage().Block("native", "csp-tolerant", "minimal", "full")
	f := newFixture(t, Config{}, nil, page.Attach(drivertest.New()))

	snap, err := f.ctrl.Start(context.Background(), models.SessionConfig{BaseURL: "https://strict.example/"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRecording, snap.Status)
	assert.True(t, snap.Degraded)

	info, err := f.ctrl.Debug(context.Background(), snap.ID)
	require.NoError(t, err)
	require.NotNil(t, info.LastInjection)
	assert.False(t, info.LastInjection.Success)
	assert.Equal(t, 2, info.LastInjection.Attempts)
	assert.Contains(t, info.LastError, "injection exhausted")
	assert.Equal(t, "strict.example", info.Domain)
}

func TestSessionLimit(t *testing.T) {
	f := newFixture(t, Config{MaxSessions: 1}, nil,
		injectiontest.NewPage().Attach(drivertest.New()),
		injectiontest.NewPage().Attach(drivertest.New()))

	_, err := f.ctrl.Start(context.Background(), models.SessionConfig{})
	require.NoError(t, err)
	_, err = f.ctrl.Start(context.Background(), models.SessionConfig{})
	assert.ErrorIs(t, err, models.ErrSessionLimit)
	assert.Len(t, f.factory.Opts, 1)
}

func TestPauseResume(t *testing.T) {
	page := injectiontest.NewPage()
	f := newFixture(t, Config{}, nil, page.Attach(drivertest.New()))
	ctx := context.Background()

	snap, err := f.ctrl.Start(ctx, models.SessionConfig{BaseURL: "https://example.com/"})
	require.NoError(t, err)
	f.drain()

	snap, err = f.ctrl.Pause(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, snap.Status)
	assert.True(t, page.Paused())

	// idempotent
	snap, err = f.ctrl.Pause(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, snap.Status)

	sess, _ := f.ctrl.Registry().Get(snap.ID)
	assert.True(t, sess.InjectionParams().Paused)

	snap, err = f.ctrl.Resume(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRecording, snap.Status)
	assert.False(t, page.Paused())

	assert.Equal(t, []models.RecordingStatus{models.StatusPaused, models.StatusRecording}, statuses(f.drain()))
}

func TestPauseCarriesOverToNewDocuments(t *testing.T) {
	page := injectiontest.NewPage()
	fake := page.Attach(drivertest.New())
	f := newFixture(t, Config{}, nil, fake)
	ctx := context.Background()

	snap, err := f.ctrl.Start(ctx, models.SessionConfig{BaseURL: "https://example.com/"})
	require.NoError(t, err)
	require.True(t, fake.NativeInstalled())

	_, err = f.ctrl.Pause(ctx, snap.ID)
	require.NoError(t, err)
	assert.Contains(t, fake.NativeScript(), `"paused":true`)

	page.NewDocument(fake)
	assert.True(t, page.Active())
	assert.True(t, page.Paused(), "a page loaded while paused must not capture")

	_, err = f.ctrl.Resume(ctx, snap.ID)
	require.NoError(t, err)
	page.NewDocument(fake)
	assert.False(t, page.Paused())

	_, err = f.ctrl.Stop(ctx, snap.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fake.Count("remove_native"), 1)
	assert.False(t, fake.NativeInstalled())
}

func TestRequestReinjection(t *testing.T) {
	page := injectiontest.NewPage()
	f := newFixture(t, Config{}, nil, page.Attach(drivertest.New()))
	ctx := context.Background()

	snap, err := f.ctrl.Start(ctx, models.SessionConfig{BaseURL: "https://example.com/"})
	require.NoError(t, err)
	page.Reload()
	require.False(t, page.Active())

	require.NoError(t, f.ctrl.RequestReinjection(snap.ID))
	require.Eventually(t, page.Active, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.ctrl.RequestReinjection("missing"), models.ErrSessionNotFound)
}

func TestPauseUnknownSession(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	_, err := f.ctrl.Pause(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestStop(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	page := injectiontest.NewPage()
	fake := page.Attach(drivertest.New())
	f := newFixture(t, Config{
		Supervisor: supervisor.Config{HealthInterval: 5 * time.Millisecond, DomainInterval: 5 * time.Millisecond},
	}, nil, fake)
	ctx := context.Background()

	snap, err := f.ctrl.Start(ctx, models.SessionConfig{BaseURL: "https://example.com/"})
	require.NoError(t, err)
	f.drain()

	snap, err = f.ctrl.Stop(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.NotNil(t, snap.EndTime)
	assert.False(t, page.Active(), "teardown should clear the page")
	assert.False(t, fake.NativeInstalled())
	assert.False(t, fake.Started())
	assert.Zero(t, f.ctrl.Registry().Len())
	assert.Equal(t, []models.RecordingStatus{models.StatusStopping, models.StatusCompleted}, statuses(f.drain()))

	// stopping again returns the archived result
	again, err := f.ctrl.Stop(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, again.Status)
	assert.Empty(t, f.drain())
}

func TestApplyStatus(t *testing.T) {
	f := newFixture(t, Config{}, nil, injectiontest.NewPage().Attach(drivertest.New()))
	ctx := context.Background()

	snap, err := f.ctrl.Start(ctx, models.SessionConfig{})
	require.NoError(t, err)

	_, err = f.ctrl.ApplyStatus(ctx, snap.ID, models.StatusInitializing)
	assert.ErrorIs(t, err, models.ErrInvalidStatusTransition)

	got, err := f.ctrl.ApplyStatus(ctx, snap.ID, models.StatusPaused)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, got.Status)

	got, err = f.ctrl.ApplyStatus(ctx, snap.ID, models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	_, err = f.ctrl.ApplyStatus(ctx, "missing", models.StatusError)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestClosureIsIdempotent(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	fake := injectiontest.NewPage().Attach(drivertest.New())
	f := newFixture(t, Config{}, nil, fake)
	snap, err := f.ctrl.Start(context.Background(), models.SessionConfig{BaseURL: "https://example.com/"})
	require.NoError(t, err)
	f.drain()
	fake.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ctrl.HandleBrowserClosed(snap.ID, driver.ErrBrowserClosed)
		}()
	}
	wg.Wait()

	ns := f.drain()
	assert.Equal(t, 1, count(ns, NotifyDisconnected))
	assert.Equal(t, []models.RecordingStatus{models.StatusCompleted}, statuses(ns))
	assert.Zero(t, f.ctrl.Registry().Len())
	assert.Eventually(t, func() bool { return !f.ctrl.supervisor.Running(snap.ID) },
		time.Second, 5*time.Millisecond)

	sess, err := f.ctrl.Lookup(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, sess.Status())
}

func TestClosureRacesStop(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	fake := injectiontest.NewPage().Attach(drivertest.New())
	f := newFixture(t, Config{}, nil, fake)
	snap, err := f.ctrl.Start(context.Background(), models.SessionConfig{})
	require.NoError(t, err)
	f.drain()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.ctrl.HandleBrowserClosed(snap.ID, driver.ErrBrowserClosed)
	}()
	go func() {
		defer wg.Done()
		_, _ = f.ctrl.Stop(context.Background(), snap.ID)
	}()
	wg.Wait()

	ns := f.drain()
	completed := 0
	for _, st := range statuses(ns) {
		if st == models.StatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.LessOrEqual(t, count(ns, NotifyDisconnected), 1)
	assert.Zero(t, f.ctrl.Registry().Len())
}

func TestHealthProbeWindowNotFound(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	fake := injectiontest.NewPage().Attach(drivertest.New())
	f := newFixture(t, Config{
		Supervisor: supervisor.Config{HealthInterval: 5 * time.Millisecond, DomainInterval: time.Hour},
	}, nil, fake)

	snap, err := f.ctrl.Start(context.Background(), models.SessionConfig{BaseURL: "https://example.com/"})
	require.NoError(t, err)
	fake.SetProbeError(errors.New("no such window: target window already closed"))

	require.Eventually(t, func() bool { return f.ctrl.Registry().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	sess, err := f.ctrl.Lookup(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, sess.Status())
	assert.Equal(t, 1, count(f.drain(), NotifyDisconnected))
}

func TestScreenshotDetectsClosure(t *testing.T) {
	fake := injectiontest.NewPage().Attach(drivertest.New())
	f := newFixture(t, Config{}, nil, fake)
	snap, err := f.ctrl.Start(context.Background(), models.SessionConfig{})
	require.NoError(t, err)

	buf, err := f.ctrl.Screenshot(context.Background(), snap.ID, "")
	require.NoError(t, err)
	assert.NotEmpty(t, buf)

	fake.Close()
	_, err = f.ctrl.Debug(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Zero(t, f.ctrl.Registry().Len())

	info, err := f.ctrl.Debug(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.True(t, info.Archived)
	assert.Equal(t, models.StatusCompleted, info.Status)
}

func TestStopExpired(t *testing.T) {
	f := newFixture(t, Config{}, nil, injectiontest.NewPage().Attach(drivertest.New()))
	snap, err := f.ctrl.Start(context.Background(), models.SessionConfig{})
	require.NoError(t, err)

	assert.Zero(t, f.ctrl.StopExpired(context.Background(), time.Hour))
	f.ctrl.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, f.ctrl.StopExpired(context.Background(), time.Hour))

	sess, err := f.ctrl.Lookup(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, sess.Status())
}

func TestShutdownStopsEverySession(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	fakes := []*drivertest.Fake{
		injectiontest.NewPage().Attach(drivertest.New()),
		injectiontest.NewPage().Attach(drivertest.New()),
	}
	f := newFixture(t, Config{
		Supervisor: supervisor.Config{HealthInterval: 5 * time.Millisecond, DomainInterval: 5 * time.Millisecond},
	}, nil, fakes...)
	for range fakes {
		_, err := f.ctrl.Start(context.Background(), models.SessionConfig{})
		require.NoError(t, err)
	}

	require.NoError(t, f.ctrl.Shutdown(context.Background()))
	assert.Zero(t, f.ctrl.Registry().Len())
	for _, fake := range fakes {
		assert.False(t, fake.Started())
	}
}
