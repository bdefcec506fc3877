package driver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sidecar command names, shared by SidecarDriver and the sidecar server.
const (
	CmdNavigate                 = "navigate"
	CmdSetViewport              = "set_viewport"
	CmdExecuteScript            = "execute_script"
	CmdExecuteAsyncScript       = "execute_async_script"
	CmdInjectScript             = "inject_script"
	CmdRelaxCSP                 = "relax_csp"
	CmdCaptureScreenshot        = "capture_screenshot"
	CmdCaptureElementScreenshot = "capture_element_screenshot"
	CmdCurrentURL               = "current_url"
	CmdTitle                    = "title"
	CmdSetNetworkCapturing      = "set_network_capturing"
	CmdSetConsoleCapturing      = "set_console_capturing"
	CmdWaitForCondition         = "wait_for_condition"
	CmdIsResponsive             = "is_responsive"
)

const stopGrace = 5 * time.Second

// CorrelationHeader carries the recording session id on every sidecar call.
const CorrelationHeader = "X-Correlation-ID"

// StartRequest is the body of POST /sessions/:id.
type StartRequest struct {
	Options   Options `json:"options"`
	TimeoutMs int64   `json:"timeoutMs"`
}

// CommandRequest is the body of POST /sessions/:id/commands/:name.
type CommandRequest struct {
	Script    string        `json:"script,omitempty"`
	Args      []interface{} `json:"args,omitempty"`
	URL       string        `json:"url,omitempty"`
	Width     int           `json:"width,omitempty"`
	Height    int           `json:"height,omitempty"`
	Selector  string        `json:"selector,omitempty"`
	Enabled   bool          `json:"enabled,omitempty"`
	Predicate string        `json:"predicate,omitempty"`
	TimeoutMs int64         `json:"timeoutMs,omitempty"`
}

// CommandResponse is the sidecar's reply to every session call.
type CommandResponse struct {
	OK    bool        `json:"ok"`
	Value interface{} `json:"value,omitempty"`
	Error string      `json:"error,omitempty"`
	Kind  string      `json:"kind,omitempty"`
}

// SidecarClient talks to one sidecar automation service.
type SidecarClient struct {
	baseURL  string
	http     *http.Client
	launcher *Launcher
	logger   *zap.Logger
}

// NewSidecarClient builds a client. launcher may be nil when the sidecar is
// managed externally. Per-call deadlines come from the request context.
func NewSidecarClient(baseURL string, launcher *Launcher, logger *zap.Logger) *SidecarClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SidecarClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{},
		launcher: launcher,
		logger:   logger,
	}
}

func (c *SidecarClient) do(ctx context.Context, method, path, sessionID string, body interface{}) (*CommandResponse, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CorrelationHeader, sessionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("sidecar returned %d: %w", resp.StatusCode, err)
	}
	return &out, nil
}

// NewDriver returns a driver bound to this sidecar.
func (c *SidecarClient) NewDriver(sessionID string, opts Options) *SidecarDriver {
	return &SidecarDriver{
		sessionID: sessionID,
		opts:      opts,
		client:    c,
		logger:    c.logger.With(zap.String("session_id", sessionID), zap.String("browser", normalizeKind(opts.Kind))),
	}
}

// SidecarDriver forwards every operation to a sidecar service over HTTP.
type SidecarDriver struct {
	sessionID string
	opts      Options
	client    *SidecarClient
	logger    *zap.Logger
	started   atomic.Bool
}

func (d *SidecarDriver) Start(ctx context.Context, timeout time.Duration) error {
	if d.started.Load() {
		return nil
	}
	if d.client.launcher != nil {
		if err := d.client.launcher.EnsureRunning(ctx); err != nil {
			return newError("start", ErrSidecarUnavailable, err)
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+stopGrace)
		defer cancel()
	}
	resp, err := d.client.do(ctx, http.MethodPost, "/sessions/"+d.sessionID, d.sessionID,
		StartRequest{Options: d.opts, TimeoutMs: timeout.Milliseconds()})
	if err != nil {
		return newError("start", ErrSidecarUnavailable, err)
	}
	if !resp.OK {
		return d.remoteError("start", resp)
	}
	d.started.Store(true)
	d.logger.Info("sidecar browser started")
	return nil
}

func (d *SidecarDriver) Stop(ctx context.Context) error {
	if !d.started.Swap(false) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	resp, err := d.client.do(ctx, http.MethodDelete, "/sessions/"+d.sessionID, d.sessionID, nil)
	if err != nil {
		return newError("stop", ErrSidecarUnavailable, err)
	}
	if !resp.OK {
		return d.remoteError("stop", resp)
	}
	return nil
}

func (d *SidecarDriver) remoteError(op string, resp *CommandResponse) error {
	kind := kindFromName(resp.Kind)
	switch {
	case kind == ErrUnsupportedBrowser:
		return newError(op, ErrDriverStart, fmt.Errorf("%w: %s", ErrUnsupportedBrowser, resp.Error))
	case kind == ErrScript && IsClosedError(errors.New(resp.Error)):
		kind = ErrBrowserClosed
	}
	return newError(op, kind, errors.New(resp.Error))
}

func (d *SidecarDriver) command(ctx context.Context, name string, req CommandRequest, timeout time.Duration) (interface{}, error) {
	if !d.started.Load() {
		return nil, newError(name, ErrNotStarted, nil)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := d.client.do(ctx, http.MethodPost, "/sessions/"+d.sessionID+"/commands/"+name, d.sessionID, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(name, ErrBrowserUnresponsive, err)
		}
		return nil, newError(name, ErrSidecarUnavailable, err)
	}
	if !resp.OK {
		return nil, d.remoteError(name, resp)
	}
	return resp.Value, nil
}

func (d *SidecarDriver) Navigate(ctx context.Context, url string) error {
	_, err := d.command(ctx, CmdNavigate, CommandRequest{URL: url}, d.opts.navigationTimeout())
	return err
}

func (d *SidecarDriver) SetViewport(ctx context.Context, width, height int) error {
	_, err := d.command(ctx, CmdSetViewport, CommandRequest{Width: width, Height: height}, d.opts.scriptTimeout())
	return err
}

func (d *SidecarDriver) ExecuteScript(ctx context.Context, src string, args ...interface{}) (interface{}, error) {
	return d.command(ctx, CmdExecuteScript, CommandRequest{Script: src, Args: args}, d.opts.scriptTimeout())
}

func (d *SidecarDriver) ExecuteAsyncScript(ctx context.Context, src string, args ...interface{}) (interface{}, error) {
	return d.command(ctx, CmdExecuteAsyncScript, CommandRequest{Script: src, Args: args}, d.opts.scriptTimeout())
}

func (d *SidecarDriver) InjectScript(ctx context.Context, src string) (interface{}, error) {
	return d.command(ctx, CmdInjectScript, CommandRequest{Script: src}, d.opts.scriptTimeout())
}

func (d *SidecarDriver) RelaxCSP(ctx context.Context) error {
	_, err := d.command(ctx, CmdRelaxCSP, CommandRequest{}, d.opts.scriptTimeout())
	return err
}

func (d *SidecarDriver) screenshot(ctx context.Context, name string, req CommandRequest) ([]byte, error) {
	v, err := d.command(ctx, name, req, d.opts.scriptTimeout())
	if err != nil {
		return nil, err
	}
	encoded, ok := v.(string)
	if !ok {
		return nil, newError(name, ErrScript, fmt.Errorf("unexpected screenshot payload %T", v))
	}
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, newError(name, ErrScript, err)
	}
	return buf, nil
}

func (d *SidecarDriver) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	return d.screenshot(ctx, CmdCaptureScreenshot, CommandRequest{})
}

func (d *SidecarDriver) CaptureElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	return d.screenshot(ctx, CmdCaptureElementScreenshot, CommandRequest{Selector: selector})
}

func (d *SidecarDriver) stringCommand(ctx context.Context, name string) (string, error) {
	v, err := d.command(ctx, name, CommandRequest{}, d.opts.probeTimeout())
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (d *SidecarDriver) CurrentURL(ctx context.Context) (string, error) {
	return d.stringCommand(ctx, CmdCurrentURL)
}

func (d *SidecarDriver) Title(ctx context.Context) (string, error) {
	return d.stringCommand(ctx, CmdTitle)
}

func (d *SidecarDriver) SetNetworkCapturing(ctx context.Context, enabled bool) error {
	_, err := d.command(ctx, CmdSetNetworkCapturing, CommandRequest{Enabled: enabled}, d.opts.scriptTimeout())
	return err
}

func (d *SidecarDriver) SetConsoleCapturing(ctx context.Context, enabled bool) error {
	_, err := d.command(ctx, CmdSetConsoleCapturing, CommandRequest{Enabled: enabled}, d.opts.scriptTimeout())
	return err
}

func (d *SidecarDriver) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) (bool, error) {
	v, err := d.command(ctx, CmdWaitForCondition,
		CommandRequest{Predicate: predicate, TimeoutMs: timeout.Milliseconds()},
		timeout+d.opts.scriptTimeout())
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

func (d *SidecarDriver) IsResponsive(ctx context.Context) bool {
	v, err := d.command(ctx, CmdIsResponsive, CommandRequest{}, d.opts.probeTimeout())
	return err == nil && Truthy(v)
}
