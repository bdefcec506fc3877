package recorder

import (
	"sync"
	"time"
)

type archived struct {
	session *Session
	at      time.Time
}

// Archive keeps finished sessions readable until their retention expires.
type Archive struct {
	retention time.Duration
	mutex     sync.RWMutex
	entries   map[string]archived
	now       func() time.Time
}

// NewArchive returns an archive; retention <= 0 keeps sessions until the
// process exits.
func NewArchive(retention time.Duration) *Archive {
	return &Archive{
		retention: retention,
		entries:   make(map[string]archived),
		now:       time.Now,
	}
}

func (a *Archive) Put(s *Session) {
	a.mutex.Lock()
	a.entries[s.ID()] = archived{session: s, at: a.now()}
	a.mutex.Unlock()
}

func (a *Archive) Get(id string) (*Session, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	e, ok := a.entries[id]
	return e.session, ok
}

// Purge drops sessions archived longer than the retention ago and returns
// how many were removed.
func (a *Archive) Purge() int {
	if a.retention <= 0 {
		return 0
	}
	cutoff := a.now().Add(-a.retention)

	a.mutex.Lock()
	defer a.mutex.Unlock()
	n := 0
	for id, e := range a.entries {
		if e.at.Before(cutoff) {
			delete(a.entries, id)
			n++
		}
	}
	return n
}

func (a *Archive) Len() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return len(a.entries)
}
