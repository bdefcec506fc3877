package models

import (
	"strings"
	"time"
)

// RecordingStatus is the lifecycle state of a recording session.
type RecordingStatus string

const (
	StatusIdle         RecordingStatus = "IDLE"
	StatusInitializing RecordingStatus = "INITIALIZING"
	StatusRecording    RecordingStatus = "RECORDING"
	StatusPaused       RecordingStatus = "PAUSED"
	StatusStopping     RecordingStatus = "STOPPING"
	StatusCompleted    RecordingStatus = "COMPLETED"
	StatusError        RecordingStatus = "ERROR"
)

var allStatuses = []RecordingStatus{
	StatusIdle, StatusInitializing, StatusRecording, StatusPaused,
	StatusStopping, StatusCompleted, StatusError,
}

// transitions lists the moves the lifecycle controller may make on its own.
// Closure detection completes a session from any live state through a forced
// completion instead.
var transitions = map[RecordingStatus][]RecordingStatus{
	StatusIdle:         {StatusInitializing, StatusStopping, StatusError},
	StatusInitializing: {StatusRecording, StatusStopping, StatusError},
	StatusRecording:    {StatusPaused, StatusStopping, StatusError},
	StatusPaused:       {StatusRecording, StatusStopping, StatusError},
	StatusStopping:     {StatusCompleted, StatusError},
}

// ParseRecordingStatus matches s case-insensitively against the known states.
func ParseRecordingStatus(s string) (RecordingStatus, bool) {
	candidate := RecordingStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range allStatuses {
		if st == candidate {
			return st, true
		}
	}
	return "", false
}

// Terminal reports whether no further transition is possible.
func (s RecordingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether the controller may move from s to next.
func (s RecordingStatus) CanTransition(next RecordingStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BrowserKind selects the automation backend family for a session.
type BrowserKind string

const (
	BrowserChrome   BrowserKind = "chrome"
	BrowserChromium BrowserKind = "chromium"
	BrowserEdge     BrowserKind = "edge"
	BrowserFirefox  BrowserKind = "firefox"
	BrowserWebKit   BrowserKind = "webkit"
	BrowserSafari   BrowserKind = "safari"
)

// BlankPageURL is navigated to verbatim when a session has no base URL.
const BlankPageURL = "about:blank"

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (v Viewport) IsZero() bool {
	return v.Width <= 0 || v.Height <= 0
}

// SessionConfig is the per-session configuration supplied at start.
type SessionConfig struct {
	BrowserKind       BrowserKind       `json:"browserKind"`
	BaseURL           string            `json:"baseUrl"`
	Viewport          Viewport          `json:"viewport"`
	Device            string            `json:"device,omitempty"`
	Headless          *bool             `json:"headless,omitempty"`
	UserAgent         string            `json:"userAgent,omitempty"`
	Environment       map[string]string `json:"environment,omitempty"`
	StartTimeout      Duration          `json:"startTimeout,omitempty"`
	NavigationTimeout Duration          `json:"navigationTimeout,omitempty"`
	ScriptTimeout     Duration          `json:"scriptTimeout,omitempty"`
	InjectionAttempts int               `json:"injectionAttempts,omitempty"`
}

// SessionDefaults fills unset SessionConfig fields.
type SessionDefaults struct {
	BrowserKind       BrowserKind
	Headless          bool
	StartTimeout      time.Duration
	NavigationTimeout time.Duration
	ScriptTimeout     time.Duration
	InjectionAttempts int
}

// WithDefaults returns a copy of c with unset fields taken from d.
func (c SessionConfig) WithDefaults(d SessionDefaults) SessionConfig {
	out := c
	if out.BrowserKind == "" {
		out.BrowserKind = d.BrowserKind
	}
	out.BrowserKind = BrowserKind(strings.ToLower(string(out.BrowserKind)))
	if strings.TrimSpace(out.BaseURL) == "" {
		out.BaseURL = BlankPageURL
	}
	if out.Headless == nil {
		h := d.Headless
		out.Headless = &h
	}
	if out.StartTimeout <= 0 {
		out.StartTimeout = Duration(d.StartTimeout)
	}
	if out.NavigationTimeout <= 0 {
		out.NavigationTimeout = Duration(d.NavigationTimeout)
	}
	if out.ScriptTimeout <= 0 {
		out.ScriptTimeout = Duration(d.ScriptTimeout)
	}
	if out.InjectionAttempts <= 0 {
		out.InjectionAttempts = d.InjectionAttempts
	}
	if out.Environment != nil {
		env := make(map[string]string, len(out.Environment))
		for k, v := range out.Environment {
			env[k] = v
		}
		out.Environment = env
	}
	return out
}

// IsHeadless dereferences Headless, treating nil as false.
func (c SessionConfig) IsHeadless() bool {
	return c.Headless != nil && *c.Headless
}

// BrowserMetadata is best-effort information about the recorded browser.
type BrowserMetadata struct {
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Version   string `json:"version,omitempty"`
}

func (m BrowserMetadata) IsZero() bool {
	return m == BrowserMetadata{}
}

// SessionSnapshot is the read-only view of a session handed to callers.
type SessionSnapshot struct {
	ID              string           `json:"sessionId"`
	Status          RecordingStatus  `json:"status"`
	Config          SessionConfig    `json:"config"`
	EventCount      int              `json:"eventCount"`
	StartTime       time.Time        `json:"startTime"`
	EndTime         *time.Time       `json:"endTime,omitempty"`
	BrowserMetadata *BrowserMetadata `json:"browserMetadata,omitempty"`
	Degraded        bool             `json:"degraded"`
}
