package server

import (
	"log/slog"

	"github.com/vovakirdan/ruchat-server/pkg/protocol"
)

// BroadcastRouter fans a chat line out to the live members of a room.
type BroadcastRouter struct {
	sessions *SessionRegistry
	rooms    *RoomDirectory
	metrics  *Metrics
}

// NewBroadcastRouter creates a router over the given directories.
// metrics may be nil.
func NewBroadcastRouter(sessions *SessionRegistry, rooms *RoomDirectory, metrics *Metrics) *BroadcastRouter {
	return &BroadcastRouter{sessions: sessions, rooms: rooms, metrics: metrics}
}

// Broadcast delivers "[room] sender: text" to every other member of room
// that is still signed in and still in room, and returns how many
// deliveries were queued. Membership is snapshotted first and no lock is
// held while queueing. A recipient that cannot take the line is closed; the
// sender never sees the failure.
func (r *BroadcastRouter) Broadcast(room, sender, text string) int {
	members, ok := r.rooms.MembersOf(room)
	if !ok {
		return 0
	}

	line := protocol.FormatRoomLine(room, sender, text)
	delivered := 0
	for _, id := range members {
		if id == sender {
			continue
		}
		sess, ok := r.sessions.Lookup(id)
		if !ok {
			continue
		}
		// Re-check: the member may have switched rooms or signed out
		// since the snapshot.
		st := sess.State()
		if !st.Authenticated || st.Room != room || st.Username != id {
			continue
		}
		if err := sess.Deliver(line); err != nil {
			slog.Warn("broadcast delivery failed, closing recipient",
				"room", room, "from", sender, "to", id, "session", sess.ID, "err", err)
			if r.metrics != nil {
				r.metrics.DeliveryFailures.Add(1)
			}
			sess.Close()
			continue
		}
		delivered++
	}

	if r.metrics != nil {
		r.metrics.ChatMessages.Add(1)
		r.metrics.Deliveries.Add(int64(delivered))
	}
	return delivered
}
