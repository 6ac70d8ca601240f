package server

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/vovakirdan/ruchat-server/pkg/model"
)

// ErrNotSignedIn is returned for room operations by a session that no
// longer owns its identity.
var ErrNotSignedIn = errors.New("not signed in")

// Hub coordinates the session registry and room directory. Every change
// to which session owns an identity, and where that identity sits, goes
// through the hub lock. Lock order is hub, then registry or rooms, then a
// session's own state; the hub never performs I/O or touches the database
// while locked.
type Hub struct {
	mu       sync.Mutex
	sessions *SessionRegistry
	rooms    *RoomDirectory
	metrics  *Metrics
}

// NewHub creates a hub over the given directories. metrics may be nil.
func NewHub(sessions *SessionRegistry, rooms *RoomDirectory, metrics *Metrics) *Hub {
	return &Hub{sessions: sessions, rooms: rooms, metrics: metrics}
}

// Attach signs sess in as identity and places it in the main room. If
// another session held identity it is signed out and returned; the caller
// must notify and close it outside any lock.
func (h *Hub) Attach(sess *Session, identity string) (evicted *Session) {
	h.mu.Lock()
	prev := h.sessions.Register(identity, sess)
	if prev != nil {
		prev.signOut()
	}
	sess.signIn(identity, model.MainRoom)
	// Join relocates identity out of the evicted session's room.
	_ = h.rooms.Join(model.MainRoom, identity)
	h.mu.Unlock()

	if prev != nil && h.metrics != nil {
		h.metrics.Evictions.Add(1)
	}
	return prev
}

// Detach signs sess out. It releases the registry entry and room membership
// only if sess still owns its identity, and reports whether it did. Calling
// it again, or for an evicted session, is a no-op.
func (h *Hub) Detach(sess *Session) (SessionState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := sess.signOut()
	if !st.Authenticated {
		return st, false
	}
	if !h.sessions.UnregisterSession(st.Username, sess) {
		return st, false
	}
	h.rooms.Leave(st.Room, st.Username)
	return st, true
}

// SwitchRoom moves sess's identity into room.
func (h *Hub) SwitchRoom(sess *Session, room string) error {
	room = model.NormalizeRoomName(room)
	if room == "" {
		return model.ErrEmptyArgument
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	st := sess.State()
	if !st.Authenticated {
		return ErrNotSignedIn
	}
	if cur, ok := h.sessions.Lookup(st.Username); !ok || cur != sess {
		return ErrNotSignedIn
	}
	if err := h.rooms.Move(st.Username, st.Room, room); err != nil {
		return err
	}
	sess.setRoom(room)

	if h.metrics != nil {
		h.metrics.RoomSwitches.Add(1)
	}
	slog.Debug("room switched", "user", st.Username, "from", st.Room, "to", room)
	return nil
}
