package recorder

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type NotificationType string

const (
	NotifyEvent        NotificationType = "event"
	NotifyStatus       NotificationType = "status"
	NotifyDisconnected NotificationType = "disconnected"
	NotifyInjection    NotificationType = "injection"
	NotifyBrowserInfo  NotificationType = "browser_info"
)

// Notification is one message pushed to subscribers.
type Notification struct {
	Type      NotificationType `json:"type"`
	SessionID string           `json:"sessionId"`
	Data      interface{}      `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Subscription receives notifications for one session, or for all of them
// when subscribed with an empty id.
type Subscription struct {
	C <-chan Notification

	ch        chan Notification
	sessionID string
	hub       *Hub
	once      sync.Once
}

// Close unsubscribes and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub fans notifications out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the notification.
type Hub struct {
	buffer int
	logger *zap.Logger

	mutex sync.RWMutex
	subs  map[*Subscription]struct{}
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{buffer: buffer, logger: logger.Named("hub"), subs: make(map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan Notification, h.buffer)
	s := &Subscription{C: ch, ch: ch, sessionID: sessionID, hub: h}
	h.mutex.Lock()
	h.subs[s] = struct{}{}
	h.mutex.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.subs, s)
	close(s.ch)
}

func (h *Hub) Publish(n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for s := range h.subs {
		if s.sessionID != "" && s.sessionID != n.SessionID {
			continue
		}
		select {
		case s.ch <- n:
		default:
			h.logger.Warn("subscriber too slow, notification dropped",
				zap.String("session_id", n.SessionID), zap.String("type", string(n.Type)))
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subs)
}
