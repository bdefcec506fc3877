package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDriverStart         = errors.New("driver start failure")
	ErrNavigation          = errors.New("navigation failure")
	ErrBrowserClosed       = errors.New("browser closed")
	ErrBrowserUnresponsive = errors.New("browser unresponsive")
	ErrSidecarUnavailable  = errors.New("sidecar unavailable")
	ErrUnsupportedBrowser  = errors.New("unsupported browser kind")
	ErrNotStarted          = errors.New("driver not started")
	ErrScript              = errors.New("script failure")
)

// Error is the typed failure every Driver operation returns.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// closedMarkers are substrings the supported backends use when the window or
// target behind a session has gone away.
var closedMarkers = []string{
	"no such window",
	"target window already closed",
	"web view not found",
	"no target with given id",
	"target closed",
	"session deleted because of page crash",
	"invalid session id",
	"browser has disconnected",
	"browser has been closed",
	"websocket: close",
}

// IsClosedError reports whether err means the browser window is gone.
func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBrowserClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range closedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classify wraps a backend error, promoting it to ErrBrowserClosed when it
// matches a closed-window marker.
func classify(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if IsClosedError(err) {
		return newError(op, ErrBrowserClosed, err)
	}
	if errors.Is(err, context.DeadlineExceeded) && kind == ErrScript {
		return newError(op, ErrBrowserUnresponsive, err)
	}
	return newError(op, kind, err)
}

type kindName struct {
	kind error
	name string
}

// kindNames is ordered most specific first: an unsupported kind also wraps
// ErrDriverStart, and a closed browser may surface as a script failure.
var kindNames = []kindName{
	{ErrUnsupportedBrowser, "unsupported"},
	{ErrBrowserClosed, "closed"},
	{ErrBrowserUnresponsive, "unresponsive"},
	{ErrSidecarUnavailable, "sidecar"},
	{ErrNotStarted, "not_started"},
	{ErrNavigation, "navigation"},
	{ErrDriverStart, "start"},
	{ErrScript, "script"},
}

// KindName is the wire name of err's kind, used by the sidecar protocol.
func KindName(err error) string {
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "script"
}

func kindFromName(name string) error {
	for _, k := range kindNames {
		if k.name == name {
			return k.kind
		}
	}
	return ErrScript
}
