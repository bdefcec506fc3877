package recorder

import (
	"fmt"
	"sync"
	"time"

	"webtestflow/recorder/internal/injection"
	"webtestflow/recorder/internal/models"
	"webtestflow/recorder/pkg/driver"
)

// Session is one recording. Status only changes through the controller;
// the gateway appends events.
type Session struct {
	id        string
	config    models.SessionConfig
	startTime time.Time

	// ops serializes start, pause, resume and stop. Closure handling never
	// takes it.
	ops sync.Mutex

	mutex    sync.RWMutex
	status   models.RecordingStatus
	endTime  *time.Time
	events   []models.RecordedEvent
	eventIDs map[string]struct{}
	metadata *models.BrowserMetadata

	driver     driver.Driver
	lastURL    string
	lastTitle  string
	lastDomain string
	params     injection.Params

	lastInjection *injection.Result
	degraded      bool
	lastError     string
}

func newSession(id string, cfg models.SessionConfig, now time.Time) *Session {
	return &Session{
		id:        id,
		config:    cfg,
		startTime: now,
		status:    models.StatusIdle,
		eventIDs:  make(map[string]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Config() models.SessionConfig { return s.config }

func (s *Session) StartTime() time.Time { return s.startTime }

func (s *Session) Status() models.RecordingStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.status
}

func (s *Session) transition(next models.RecordingStatus) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, s.status, next)
	}
	s.status = next
	if next.Terminal() {
		now := time.Now()
		s.endTime = &now
	}
	return nil
}

// forceComplete moves any live session straight to COMPLETED. It reports
// false when the session had already finished.
func (s *Session) forceComplete() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status.Terminal() {
		return false
	}
	s.status = models.StatusCompleted
	now := time.Now()
	s.endTime = &now
	return true
}

// AppendEvent stores ev at the end of the event list. A repeated event id
// is acknowledged without a second append.
func (s *Session) AppendEvent(ev models.RecordedEvent) (string, bool, error) {
	id := ev.Base().ID

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status.Terminal() {
		return "", false, fmt.Errorf("%w: %s is %s", models.ErrSessionNotFound, s.id, s.status)
	}
	if _, dup := s.eventIDs[id]; dup {
		return id, false, nil
	}
	s.eventIDs[id] = struct{}{}
	s.events = append(s.events, models.CloneEvent(ev))
	return id, true, nil
}

// Events returns copies of the recorded events in ingestion order.
func (s *Session) Events() []models.RecordedEvent {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]models.RecordedEvent, len(s.events))
	for i, ev := range s.events {
		out[i] = models.CloneEvent(ev)
	}
	return out
}

func (s *Session) EventCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.events)
}

// SetBrowserMetadata stores m unless metadata is already known.
func (s *Session) SetBrowserMetadata(m models.BrowserMetadata) bool {
	if m.IsZero() {
		return false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.metadata != nil {
		return false
	}
	s.metadata = &m
	return true
}

func (s *Session) BrowserMetadata() (models.BrowserMetadata, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.metadata == nil {
		return models.BrowserMetadata{}, false
	}
	return *s.metadata, true
}

func (s *Session) Driver() driver.Driver {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.driver
}

func (s *Session) attach(d driver.Driver) {
	s.mutex.Lock()
	s.driver = d
	s.mutex.Unlock()
}

func (s *Session) setParams(p injection.Params) {
	s.mutex.Lock()
	s.params = p
	s.mutex.Unlock()
}

// InjectionParams returns the script parameters with the current pause
// state, so a reinjected recorder comes back paused if the session is.
func (s *Session) InjectionParams() injection.Params {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	p := s.params
	p.Paused = s.status == models.StatusPaused
	return p
}

func (s *Session) SwapDomain(domain string) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	prev := s.lastDomain
	s.lastDomain = domain
	return prev
}

func (s *Session) setLocation(url, title string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if url != "" {
		s.lastURL = url
	}
	if title != "" {
		s.lastTitle = title
	}
}

func (s *Session) RecordInjection(res injection.Result, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastInjection = &res
	s.degraded = !res.Success
	if err != nil {
		s.lastError = err.Error()
	}
}

func (s *Session) recordError(err error) {
	if err == nil {
		return
	}
	s.mutex.Lock()
	s.lastError = err.Error()
	s.mutex.Unlock()
}

func (s *Session) Snapshot() models.SessionSnapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snap := models.SessionSnapshot{
		ID:         s.id,
		Status:     s.status,
		Config:     s.config,
		EventCount: len(s.events),
		StartTime:  s.startTime,
		Degraded:   s.degraded,
	}
	if s.endTime != nil {
		end := *s.endTime
		snap.EndTime = &end
	}
	if s.metadata != nil {
		m := *s.metadata
		snap.BrowserMetadata = &m
	}
	return snap
}

// DebugInfo is the introspection view of a session.
type DebugInfo struct {
	models.SessionSnapshot
	LastInjection *injection.Result `json:"lastInjection,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
	URL           string            `json:"url,omitempty"`
	Title         string            `json:"title,omitempty"`
	Domain        string            `json:"domain,omitempty"`
	Archived      bool              `json:"archived"`
}

func (s *Session) debugInfo() DebugInfo {
	snap := s.Snapshot()

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	info := DebugInfo{
		SessionSnapshot: snap,
		LastError:       s.lastError,
		URL:             s.lastURL,
		Title:           s.lastTitle,
		Domain:          s.lastDomain,
	}
	if s.lastInjection != nil {
		res := *s.lastInjection
		info.LastInjection = &res
	}
	return info
}
