package recorder

import (
	"fmt"
	"sort"
	"sync"

	"webtestflow/recorder/internal/models"
)

// Registry owns every active session. Sessions leave it exactly once.
type Registry struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add stores s unless the id is taken or limit active sessions already
// exist. limit <= 0 means unbounded.
func (r *Registry) Add(s *Session, limit int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.sessions[s.ID()]; exists {
		return fmt.Errorf("%w: %s", models.ErrSessionExists, s.ID())
	}
	if limit > 0 && len(r.sessions) >= limit {
		return fmt.Errorf("%w: limit is %d", models.ErrSessionLimit, limit)
	}
	r.sessions[s.ID()] = s
	return nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	s, exists := r.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove deletes id and reports whether this call removed it.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
	}
	return s, exists
}

// List returns the active sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mutex.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime().Equal(out[j].StartTime()) {
			return out[i].ID() < out[j].ID()
		}
		return out[i].StartTime().Before(out[j].StartTime())
	})
	return out
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}
