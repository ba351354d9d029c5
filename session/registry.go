package session

import (
	"sync"

	"github.com/onnwee/tweetchat/chat"
	"github.com/onnwee/tweetchat/telemetry"
)

// Registry owns one Session per normalized identity for the life of the
// process. All of a user's connections share the same session.
type Registry struct {
	auth  Authorizer
	store Store

	mu       sync.Mutex
	sessions map[chat.Identity]*Session
}

// NewRegistry returns an empty registry whose sessions use auth and store.
func NewRegistry(auth Authorizer, store Store) *Registry {
	return &Registry{auth: auth, store: store, sessions: make(map[chat.Identity]*Session)}
}

// GetOrCreate returns the session for id, creating an unauthenticated one
// on first use. It is safe for concurrent use.
func (r *Registry) GetOrCreate(id chat.Identity) *Session {
	key := id.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s
	}
	s := newSession(key, r.auth, r.store)
	r.sessions[key] = s
	telemetry.SetSessions(len(r.sessions))
	return s
}

// Get returns the session for id without creating one.
func (r *Registry) Get(id chat.Identity) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id.Normalize()]
	return s, ok
}

// Len reports the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
