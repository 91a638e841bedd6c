package session

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrNotFound is returned for an unknown session ID.
var ErrNotFound = errors.New("session not found")

// Registry is the set of live sessions. Sessions leave it when they close,
// whatever the reason.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // session ID → session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s. A session that closes before or during Add is not kept.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.onClose = r.remove
	}
	s.mu.Unlock()
	if closed {
		r.remove(s)
		return
	}
	log.Printf("[registry] added session %s for %s", s.ID, s.Key)
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ID]; ok && cur == s {
		delete(r.sessions, s.ID)
	}
}

// Get returns the session with id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// List returns the live sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close force-closes one session.
func (r *Registry) Close(id, reason string) error {
	s := r.Get(id)
	if s == nil {
		return ErrNotFound
	}
	s.Close(websocket.StatusGoingAway, reason)
	return nil
}

// CloseAll closes every session, for shutdown.
func (r *Registry) CloseAll(reason string) {
	for _, s := range r.List() {
		s.Close(websocket.StatusGoingAway, reason)
	}
}

// Sweep runs one heartbeat pass. A session whose flag is still down from
// the previous pass is closed; every other session has its flag lowered
// and is pinged, and a pong within pingTimeout raises it again. It returns
// the number of sessions reaped.
func (r *Registry) Sweep(ctx context.Context, pingTimeout time.Duration) int {
	reaped := 0
	for _, s := range r.List() {
		if !s.alive.Swap(false) {
			log.Printf("[registry] reaping unresponsive session %s for %s", s.ID, s.Key)
			s.Close(websocket.StatusGoingAway, "heartbeat timeout")
			reaped++
			continue
		}
		go func(s *Session) {
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if err := s.conn.Ping(pctx); err == nil {
				s.alive.Store(true)
			}
		}(s)
	}
	return reaped
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx, interval); n > 0 {
				log.Printf("[registry] reaped %d sessions, %d live", n, r.Count())
			}
		}
	}
}
