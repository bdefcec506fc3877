package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"webtestflow/recorder/pkg/chrome"
)

// ChromeConfig holds process-wide settings for in-process Chromium drivers.
type ChromeConfig struct {
	// ExecPath overrides browser discovery.
	ExecPath string
	// RemoteURL attaches to an already running browser over its DevTools
	// websocket instead of launching one.
	RemoteURL string
	// UserDataDir is the parent of per-session profile directories.
	UserDataDir string
}

// ChromeDriver drives a Chromium-family browser through the DevTools
// protocol in the recorder's own process.
type ChromeDriver struct {
	sessionID string
	opts      Options
	cfg       ChromeConfig
	logger    *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	// nativeID is the current new-document registration, if any.
	nativeID page.ScriptIdentifier

	started  atomic.Bool
	stopping atomic.Bool
	detached atomic.Bool
	network  atomic.Bool
	console  atomic.Bool
}

// NewChromeDriver returns an unstarted driver for one session.
func NewChromeDriver(sessionID string, opts Options, cfg ChromeConfig, logger *zap.Logger) *ChromeDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeDriver{
		sessionID: sessionID,
		opts:      opts,
		cfg:       cfg,
		logger:    logger.With(zap.String("session_id", sessionID), zap.String("browser", normalizeKind(opts.Kind))),
	}
}

func (d *ChromeDriver) allocatorOptions() ([]chromedp.ExecAllocatorOption, error) {
	execPath := d.cfg.ExecPath
	if execPath == "" {
		execPath = chrome.FindBrowser(normalizeKind(d.opts.Kind))
	}
	if execPath == "" {
		return nil, fmt.Errorf("%s executable not found", normalizeKind(d.opts.Kind))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("allow-running-insecure-content", true),
		chromedp.Flag("disable-ipc-flooding-protection", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("no-pings", true),
		chromedp.Flag("no-crash-upload", true),
	)
	if d.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.opts.UserAgent))
	}
	if d.opts.Width > 0 && d.opts.Height > 0 {
		opts = append(opts, chromedp.WindowSize(d.opts.Width, d.opts.Height))
	}
	if d.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(fmt.Sprintf("%s/%s", d.cfg.UserDataDir, d.sessionID)))
	}
	if len(d.opts.Env) > 0 {
		env := make([]string, 0, len(d.opts.Env))
		for k, v := range d.opts.Env {
			env = append(env, k+"="+v)
		}
		opts = append(opts, chromedp.Env(env...))
	}
	return opts, nil
}

func (d *ChromeDriver) setupActions() []chromedp.Action {
	actions := []chromedp.Action{}
	if d.opts.Device != "" {
		if dev, ok := chrome.LookupDevice(d.opts.Device); ok {
			actions = append(actions, chromedp.Emulate(dev))
		} else {
			d.logger.Warn("unknown device preset, skipping emulation", zap.String("device", d.opts.Device))
		}
	} else if d.opts.Width > 0 && d.opts.Height > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(d.opts.Width), int64(d.opts.Height)))
	}
	return actions
}

// Start launches (or attaches to) the browser. The browser context is not
// derived from ctx: the first run allocates the browser and its lifetime
// must outlast the request that started it.
func (d *ChromeDriver) Start(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started.Load() {
		return nil
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if d.cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), d.cfg.RemoteURL)
	} else {
		opts, err := d.allocatorOptions()
		if err != nil {
			return newError("start", ErrDriverStart, err)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(d.logger.Sugar().Debugf),
		chromedp.WithErrorf(d.logger.Sugar().Debugf),
	)
	cancel := func() {
		browserCancel()
		allocCancel()
	}
	chromedp.ListenTarget(browserCtx, d.onTargetEvent)

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(browserCtx, d.setupActions()...)
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-done:
		if err != nil {
			cancel()
			return newError("start", ErrDriverStart, err)
		}
	case <-timer:
		cancel()
		<-done
		return newError("start", ErrDriverStart, fmt.Errorf("browser did not start within %v", timeout))
	case <-ctx.Done():
		cancel()
		<-done
		return newError("start", ErrDriverStart, ctx.Err())
	}

	d.ctx, d.cancel = browserCtx, cancel
	d.started.Store(true)
	d.logger.Info("browser started")
	return nil
}

func (d *ChromeDriver) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *inspector.EventDetached:
		d.detached.Store(true)
		d.logger.Warn("browser target detached", zap.String("reason", string(e.Reason)))
	case *runtime.EventConsoleAPICalled:
		if !d.console.Load() {
			return
		}
		args := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			args = append(args, string(arg.Value))
		}
		d.logger.Info("page console", zap.String("level", string(e.Type)), zap.Strings("args", args))
	case *runtime.EventExceptionThrown:
		if d.console.Load() && e.ExceptionDetails != nil {
			d.logger.Warn("page exception", zap.String("text", e.ExceptionDetails.Text))
		}
	case *network.EventRequestWillBeSent:
		if d.network.Load() && e.Request != nil {
			d.logger.Debug("network request", zap.String("method", e.Request.Method), zap.String("url", e.Request.URL))
		}
	case *network.EventResponseReceived:
		if d.network.Load() && e.Response != nil {
			d.logger.Debug("network response", zap.String("url", e.Response.URL), zap.Int64("status", e.Response.Status))
		}
	}
}

// run executes actions on a context bound to both the browser and the
// caller, so either side cancelling aborts the call.
func (d *ChromeDriver) run(ctx context.Context, op string, kind error, timeout time.Duration, actions ...chromedp.Action) error {
	if !d.started.Load() {
		return newError(op, ErrNotStarted, nil)
	}
	runCtx, cancel := combineContext(d.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if d.detached.Load() || (d.ctx.Err() != nil && !d.stopping.Load()) {
		return newError(op, ErrBrowserClosed, err)
	}
	return classify(op, kind, err)
}

func combineContext(browser, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(browser)
	if caller == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (d *ChromeDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started.Load() {
		return nil
	}
	d.stopping.Store(true)
	err := chromedp.Cancel(d.ctx)
	d.cancel()
	d.started.Store(false)
	d.nativeID = ""
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("graceful browser close failed", zap.Error(err))
	}
	d.logger.Info("browser stopped")
	return nil
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, "navigate", ErrNavigation, d.opts.navigationTimeout(), chromedp.Navigate(url))
}

func (d *ChromeDriver) SetViewport(ctx context.Context, width, height int) error {
	return d.run(ctx, "set_viewport", ErrScript, d.opts.scriptTimeout(),
		chromedp.EmulateViewport(int64(width), int64(height)))
}

func (d *ChromeDriver) evaluate(ctx context.Context, op, expr string, async bool) (interface{}, error) {
	var raw string
	action := chromedp.Evaluate(expr, &raw)
	if async {
		action = chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		})
	}
	if err := d.run(ctx, op, ErrScript, d.opts.scriptTimeout(), action); err != nil {
		return nil, err
	}
	v, err := DecodeResult(raw)
	if err != nil {
		return nil, newError(op, ErrScript, err)
	}
	return v, nil
}

func (d *ChromeDriver) ExecuteScript(ctx context.Context, src string, args ...interface{}) (interface{}, error) {
	expr, err := WrapScript(src, args)
	if err != nil {
		return nil, newError("execute_script", ErrScript, err)
	}
	return d.evaluate(ctx, "execute_script", expr, false)
}

func (d *ChromeDriver) ExecuteAsyncScript(ctx context.Context, src string, args ...interface{}) (interface{}, error) {
	expr, err := WrapAsyncScript(src, args)
	if err != nil {
		return nil, newError("execute_async_script", ErrScript, err)
	}
	return d.evaluate(ctx, "execute_async_script", expr, true)
}

func (d *ChromeDriver) InjectScript(ctx context.Context, src string) (interface{}, error) {
	return d.ExecuteScript(ctx, src)
}

// InjectNative registers src for every future document, replacing the
// previous registration, and runs it in the current one.
func (d *ChromeDriver) InjectNative(ctx context.Context, src string) error {
	d.mu.Lock()
	prev := d.nativeID
	d.mu.Unlock()

	var (
		id      page.ScriptIdentifier
		removed bool
	)
	err := d.run(ctx, "inject_native", ErrScript, d.opts.scriptTimeout(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if prev != "" {
				if err := page.RemoveScriptToEvaluateOnNewDocument(prev).Do(ctx); err != nil {
					return err
				}
				removed = true
			}
			var err error
			id, err = page.AddScriptToEvaluateOnNewDocument(src).Do(ctx)
			return err
		}))
	d.mu.Lock()
	if err == nil {
		d.nativeID = id
	} else if removed && d.nativeID == prev {
		d.nativeID = ""
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = d.ExecuteScript(ctx, src)
	return err
}

// RemoveNative drops the new-document registration. It is a no-op when
// nothing is registered.
func (d *ChromeDriver) RemoveNative(ctx context.Context) error {
	d.mu.Lock()
	id := d.nativeID
	d.nativeID = ""
	d.mu.Unlock()
	if id == "" {
		return nil
	}
	return d.run(ctx, "remove_native", ErrScript, d.opts.scriptTimeout(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.RemoveScriptToEvaluateOnNewDocument(id).Do(ctx)
		}))
}

func (d *ChromeDriver) NativeInstalled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nativeID != ""
}

func (d *ChromeDriver) RelaxCSP(ctx context.Context) error {
	return d.run(ctx, "relax_csp", ErrScript, d.opts.scriptTimeout(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.SetBypassCSP(true).Do(ctx)
		}))
}

func (d *ChromeDriver) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, "capture_screenshot", ErrScript, d.opts.scriptTimeout(), chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *ChromeDriver) CaptureElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, "capture_element_screenshot", ErrScript, d.opts.scriptTimeout(),
		chromedp.Screenshot(selector, &buf, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := d.run(ctx, "current_url", ErrScript, d.opts.probeTimeout(), chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

func (d *ChromeDriver) Title(ctx context.Context) (string, error) {
	var title string
	if err := d.run(ctx, "title", ErrScript, d.opts.probeTimeout(), chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (d *ChromeDriver) SetNetworkCapturing(ctx context.Context, enabled bool) error {
	err := d.run(ctx, "set_network_capturing", ErrScript, d.opts.scriptTimeout(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if enabled {
				return network.Enable().Do(ctx)
			}
			return network.Disable().Do(ctx)
		}))
	if err != nil {
		return err
	}
	d.network.Store(enabled)
	return nil
}

// SetConsoleCapturing toggles forwarding of page console output to the log.
// The runtime domain is always enabled by chromedp.
func (d *ChromeDriver) SetConsoleCapturing(ctx context.Context, enabled bool) error {
	if !d.started.Load() {
		return newError("set_console_capturing", ErrNotStarted, nil)
	}
	d.console.Store(enabled)
	return nil
}

func (d *ChromeDriver) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) (bool, error) {
	return pollCondition(ctx, d, predicate, timeout)
}

func (d *ChromeDriver) IsResponsive(ctx context.Context) bool {
	_, err := d.Title(ctx)
	return err == nil
}

// pollCondition evaluates a JavaScript predicate until it holds or the
// timeout passes.
func pollCondition(ctx context.Context, d Driver, predicate string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	src := "return !!(" + predicate + ");"
	for {
		v, err := d.ExecuteScript(ctx, src)
		if err != nil && IsClosedError(err) {
			return false, err
		}
		if err == nil && Truthy(v) {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
