package server

import (
	"log/slog"
	"sort"
	"sync"
)

// SessionRegistry maps an identity (username) to its live session. At most
// one session holds an identity at a time.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
	}
}

// Register binds identity to sess and returns the session it replaced, if
// any. The caller owns closing the replaced session.
func (r *SessionRegistry) Register(identity string, sess *Session) (prev *Session) {
	r.mu.Lock()
	prev = r.sessions[identity]
	r.sessions[identity] = sess
	r.mu.Unlock()

	if prev != nil && prev != sess {
		slog.Warn("identity re-registered, replacing live session",
			"user", identity, "old_session", prev.ID, "new_session", sess.ID)
		return prev
	}
	return nil
}

// Unregister removes identity if present.
func (r *SessionRegistry) Unregister(identity string) {
	r.mu.Lock()
	delete(r.sessions, identity)
	r.mu.Unlock()
}

// UnregisterSession removes identity only while it is still bound to sess,
// so a replaced session cannot remove its successor.
func (r *SessionRegistry) UnregisterSession(identity string, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[identity] != sess {
		return false
	}
	delete(r.sessions, identity)
	return true
}

// Lookup returns the session bound to identity.
func (r *SessionRegistry) Lookup(identity string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	return s, ok
}

// Identities returns the registered identities, sorted.
func (r *SessionRegistry) Identities() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// All returns all registered sessions (snapshot), ordered by identity.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	result := make([]*Session, 0, len(names))
	for _, name := range names {
		result = append(result, r.sessions[name])
	}
	return result
}

// Count returns the number of registered sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
