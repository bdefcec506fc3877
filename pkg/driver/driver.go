// Package driver is the uniform automation contract the recorder uses to
// control a browser, plus its two families: an in-process chromedp driver and
// an out-of-process client for a sidecar automation service.
package driver

import (
	"context"
	"strings"
	"time"
)

// Driver controls one browser instance for one recording session. Every
// operation fails with a *Error whose Kind is one of the sentinel errors in
// this package.
type Driver interface {
	Start(ctx context.Context, timeout time.Duration) error
	Stop(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	SetViewport(ctx context.Context, width, height int) error

	// ExecuteScript runs src as a function body; args are visible as arguments[i].
	ExecuteScript(ctx context.Context, src string, args ...interface{}) (interface{}, error)
	// ExecuteAsyncScript is like ExecuteScript but the last argument is a
	// callback the script calls with its result.
	ExecuteAsyncScript(ctx context.Context, src string, args ...interface{}) (interface{}, error)
	// InjectScript executes src with injection intent.
	InjectScript(ctx context.Context, src string) (interface{}, error)

	CaptureScreenshot(ctx context.Context) ([]byte, error)
	CaptureElementScreenshot(ctx context.Context, selector string) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	SetNetworkCapturing(ctx context.Context, enabled bool) error
	SetConsoleCapturing(ctx context.Context, enabled bool) error
	WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) (bool, error)
	IsResponsive(ctx context.Context) bool
}

// NativeInjector is implemented by drivers that can install a script so it
// runs in every new document before page scripts do. A driver holds at most
// one such registration; InjectNative replaces any previous one.
type NativeInjector interface {
	InjectNative(ctx context.Context, src string) error
	// RemoveNative drops the registration so new documents start clean.
	RemoveNative(ctx context.Context) error
	NativeInstalled() bool
}

// CSPRelaxer is implemented by drivers able to disable the page's
// Content-Security-Policy enforcement.
type CSPRelaxer interface {
	RelaxCSP(ctx context.Context) error
}

// Options describes the browser a driver should bring up.
type Options struct {
	Kind              string            `json:"kind"`
	Headless          bool              `json:"headless"`
	Width             int               `json:"width,omitempty"`
	Height            int               `json:"height,omitempty"`
	Device            string            `json:"device,omitempty"`
	UserAgent         string            `json:"userAgent,omitempty"`
	Env               map[string]string `json:"env,omitempty"`
	NavigationTimeout time.Duration     `json:"navigationTimeout,omitempty"`
	ScriptTimeout     time.Duration     `json:"scriptTimeout,omitempty"`
	ProbeTimeout      time.Duration     `json:"probeTimeout,omitempty"`
}

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultScriptTimeout     = 10 * time.Second
	defaultProbeTimeout      = 2 * time.Second
)

func (o Options) navigationTimeout() time.Duration {
	if o.NavigationTimeout > 0 {
		return o.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (o Options) scriptTimeout() time.Duration {
	if o.ScriptTimeout > 0 {
		return o.ScriptTimeout
	}
	return defaultScriptTimeout
}

func (o Options) probeTimeout() time.Duration {
	if o.ProbeTimeout > 0 {
		return o.ProbeTimeout
	}
	return defaultProbeTimeout
}

func normalizeKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	if k == "" {
		return "chrome"
	}
	return k
}
