// Package drivertest provides an in-memory driver.Driver for tests.
package drivertest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"webtestflow/recorder/pkg/driver"
)

// Call is one recorded driver invocation.
type Call struct {
	Op  string
	Arg string
}

// ScriptFunc answers ExecuteScript and InjectScript calls.
type ScriptFunc func(src string, args []interface{}) (interface{}, error)

// Fake records every call and answers from settable state. It implements
// driver.NativeInjector and driver.CSPRelaxer; wrap it with Plain to hide
// those capabilities.
type Fake struct {
	mu        sync.Mutex
	calls     []Call
	url       string
	title     string
	started   bool
	closed    bool
	script    ScriptFunc
	native    func(src string) error
	nativeSrc string
	startErr  error
	navErr    error
	probeErr  error
	startWait time.Duration
}

func New() *Fake {
	return &Fake{title: "Fake Page"}
}

func (f *Fake) record(op, arg string) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Arg: arg})
	f.mu.Unlock()
}

// Calls returns the recorded calls, optionally filtered by op.
func (f *Fake) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) Count(op string) int {
	return len(f.Calls(op))
}

// Scripts returns the source of every executed script whose text contains
// substr.
func (f *Fake) Scripts(substr string) []string {
	var out []string
	for _, c := range f.Calls("") {
		if (c.Op == "execute_script" || c.Op == "inject_script") && strings.Contains(c.Arg, substr) {
			out = append(out, c.Arg)
		}
	}
	return out
}

func (f *Fake) SetURL(u string) {
	f.mu.Lock()
	f.url = u
	f.mu.Unlock()
}

func (f *Fake) SetTitle(t string) {
	f.mu.Lock()
	f.title = t
	f.mu.Unlock()
}

func (f *Fake) SetScript(fn ScriptFunc) {
	f.mu.Lock()
	f.script = fn
	f.mu.Unlock()
}

func (f *Fake) SetNative(fn func(src string) error) {
	f.mu.Lock()
	f.native = fn
	f.mu.Unlock()
}

func (f *Fake) SetStartError(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

// SetStartDelay makes Start block for d, honoring its timeout.
func (f *Fake) SetStartDelay(d time.Duration) {
	f.mu.Lock()
	f.startWait = d
	f.mu.Unlock()
}

func (f *Fake) SetNavigateError(err error) {
	f.mu.Lock()
	f.navErr = err
	f.mu.Unlock()
}

// SetProbeError makes Title, CurrentURL and IsResponsive fail with err.
func (f *Fake) SetProbeError(err error) {
	f.mu.Lock()
	f.probeErr = err
	f.mu.Unlock()
}

// Close simulates the user closing the browser window.
func (f *Fake) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *Fake) closedErr(op string) error {
	return &driver.Error{Op: op, Kind: driver.ErrBrowserClosed, Err: errors.New("no such window: target window already closed")}
}

func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *Fake) Start(ctx context.Context, timeout time.Duration) error {
	f.record("start", "")
	f.mu.Lock()
	err, wait := f.startErr, f.startWait
	f.mu.Unlock()
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-time.After(timeout):
			return &driver.Error{Op: "start", Kind: driver.ErrDriverStart, Err: errors.New("start timed out")}
		case <-ctx.Done():
			return &driver.Error{Op: "start", Kind: driver.ErrDriverStart, Err: ctx.Err()}
		}
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Stop(ctx context.Context) error {
	f.record("stop", "")
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
	return nil
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.record("navigate", url)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return f.closedErr("navigate")
	}
	if f.navErr != nil {
		return f.navErr
	}
	f.url = url
	return nil
}

func (f *Fake) SetViewport(ctx context.Context, width, height int) error {
	f.record("set_viewport", "")
	return nil
}

func (f *Fake) runScript(op, src string, args []interface{}) (interface{}, error) {
	f.record(op, src)
	f.mu.Lock()
	closed, fn := f.closed, f.script
	f.mu.Unlock()
	if closed {
		return nil, f.closedErr(op)
	}
	if fn == nil {
		return nil, nil
	}
	return fn(src, args)
}

func (f *Fake) ExecuteScript(ctx context.Context, src string, args ...interface{}) (interface{}, error) {
	return f.runScript("execute_script", src, args)
}

func (f *Fake) ExecuteAsyncScript(ctx context.Context, src string, args ...interface{}) (interface{}, error) {
	return f.runScript("execute_async_script", src, args)
}

func (f *Fake) InjectScript(ctx context.Context, src string) (interface{}, error) {
	return f.runScript("inject_script", src, nil)
}

func (f *Fake) InjectNative(ctx context.Context, src string) error {
	f.record("inject_native", src)
	f.mu.Lock()
	closed, fn := f.closed, f.native
	f.mu.Unlock()
	if closed {
		return f.closedErr("inject_native")
	}
	if fn != nil {
		if err := fn(src); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.nativeSrc = src
	f.mu.Unlock()
	return nil
}

func (f *Fake) RemoveNative(ctx context.Context) error {
	f.record("remove_native", "")
	f.mu.Lock()
	f.nativeSrc = ""
	f.mu.Unlock()
	return nil
}

func (f *Fake) NativeInstalled() bool {
	return f.NativeScript() != ""
}

// NativeScript returns the script new documents would run, or "".
func (f *Fake) NativeScript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nativeSrc
}

func (f *Fake) RelaxCSP(ctx context.Context) error {
	f.record("relax_csp", "")
	return nil
}

func (f *Fake) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	f.record("capture_screenshot", "")
	return []byte("\x89PNG"), nil
}

func (f *Fake) CaptureElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	f.record("capture_element_screenshot", selector)
	return []byte("\x89PNG"), nil
}

func (f *Fake) probe(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return f.closedErr(op)
	}
	return f.probeErr
}

func (f *Fake) CurrentURL(ctx context.Context) (string, error) {
	f.record("current_url", "")
	if err := f.probe("current_url"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *Fake) Title(ctx context.Context) (string, error) {
	f.record("title", "")
	if err := f.probe("title"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title, nil
}

func (f *Fake) SetNetworkCapturing(ctx context.Context, enabled bool) error {
	f.record("set_network_capturing", "")
	return nil
}

func (f *Fake) SetConsoleCapturing(ctx context.Context, enabled bool) error {
	f.record("set_console_capturing", "")
	return nil
}

func (f *Fake) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) (bool, error) {
	v, err := f.ExecuteScript(ctx, "return !!("+predicate+");")
	if err != nil {
		return false, err
	}
	return driver.Truthy(v), nil
}

func (f *Fake) IsResponsive(ctx context.Context) bool {
	_, err := f.Title(ctx)
	return err == nil
}

// Plain hides the optional capabilities of a driver.
func Plain(d driver.Driver) driver.Driver {
	return plain{d}
}

type plain struct {
	driver.Driver
}

// Factory hands out the given fakes in order, one per session.
type Factory struct {
	mu    sync.Mutex
	fakes []*Fake
	wrap  func(*Fake) driver.Driver
	Opts  []driver.Options
}

func NewFactory(fakes ...*Fake) *Factory {
	return &Factory{fakes: fakes}
}

// WithWrapper applies fn to each fake before handing it out.
func (f *Factory) WithWrapper(fn func(*Fake) driver.Driver) *Factory {
	f.wrap = fn
	return f
}

func (f *Factory) New(sessionID string, opts driver.Options) (driver.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Opts = append(f.Opts, opts)
	var fake *Fake
	if len(f.fakes) > 0 {
		fake, f.fakes = f.fakes[0], f.fakes[1:]
	} else {
		fake = New()
	}
	if f.wrap != nil {
		return f.wrap(fake), nil
	}
	return fake, nil
}
