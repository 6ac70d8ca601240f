package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vovakirdan/ruchat-server/pkg/model"
	"github.com/vovakirdan/ruchat-server/pkg/protocol"
)

type testHub struct {
	sessions *SessionRegistry
	rooms    *RoomDirectory
	metrics  *Metrics
	hub      *Hub
	router   *BroadcastRouter
}

func newTestHub(rooms ...string) *testHub {
	h := &testHub{
		sessions: NewSessionRegistry(),
		rooms:    NewRoomDirectory(rooms...),
		metrics:  NewMetrics(),
	}
	h.hub = NewHub(h.sessions, h.rooms, h.metrics)
	h.router = NewBroadcastRouter(h.sessions, h.rooms, h.metrics)
	return h
}

// signedIn returns a detached session attached as identity.
func (h *testHub) signedIn(identity string, queue int) *Session {
	sess := newSession(nil, queue, 0)
	h.hub.Attach(sess, identity)
	return sess
}

// drain returns everything queued on a detached session.
func drain(s *Session) []string {
	var out []string
	for {
		select {
		case msg := <-s.out:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcastFanOut(t *testing.T) {
	h := newTestHub("dev")
	alice := h.signedIn("alice", 8)
	bob := h.signedIn("bob", 8)
	carol := h.signedIn("carol", 8)
	dave := h.signedIn("dave", 8)
	if err := h.hub.SwitchRoom(dave, "dev"); err != nil {
		t.Fatalf("SwitchRoom: %v", err)
	}

	n := h.router.Broadcast(model.MainRoom, "alice", "hi")
	if n != 2 {
		t.Fatalf("Broadcast: expected 2 deliveries got %d", n)
	}

	want := []string{"[main] alice: hi\n" + protocol.Prompt}
	for name, sess := range map[string]*Session{"bob": bob, "carol": carol} {
		if diff := cmp.Diff(want, drain(sess)); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", name, diff)
		}
	}
	if got := drain(alice); len(got) != 0 {
		t.Fatalf("sender received its own line: %q", got)
	}
	if got := drain(dave); len(got) != 0 {
		t.Fatalf("member of another room received: %q", got)
	}

	snap := h.metrics.Snapshot()
	if snap.ChatMessages != 1 || snap.Deliveries != 2 {
		t.Fatalf("metrics: expected 1 message 2 deliveries got %d %d", snap.ChatMessages, snap.Deliveries)
	}
}

func TestBroadcastSkipsStaleMembers(t *testing.T) {
	h := newTestHub()
	h.signedIn("alice", 8)
	bob := h.signedIn("bob", 8)

	// Membership without a registered session.
	_ = h.rooms.Join(model.MainRoom, "ghost")
	// Session whose state no longer matches the room.
	bob.setRoom("elsewhere")

	if n := h.router.Broadcast(model.MainRoom, "alice", "hi"); n != 0 {
		t.Fatalf("Broadcast: expected 0 deliveries got %d", n)
	}
	if got := drain(bob); len(got) != 0 {
		t.Fatalf("stale member received: %q", got)
	}
	if n := h.router.Broadcast("nope", "alice", "hi"); n != 0 {
		t.Fatalf("Broadcast to missing room: expected 0 got %d", n)
	}
}

func TestBroadcastClosesFailedRecipient(t *testing.T) {
	h := newTestHub()
	h.signedIn("alice", 8)
	slow := h.signedIn("slow", 1)
	bob := h.signedIn("bob", 8)

	if n := h.router.Broadcast(model.MainRoom, "alice", "one"); n != 2 {
		t.Fatalf("Broadcast: expected 2 deliveries got %d", n)
	}
	// slow's queue is now full.
	if n := h.router.Broadcast(model.MainRoom, "alice", "two"); n != 1 {
		t.Fatalf("Broadcast: expected 1 delivery got %d", n)
	}

	select {
	case <-slow.Done():
	default:
		t.Fatalf("failed recipient was not closed")
	}
	if err := slow.Send("x"); err != ErrSessionClosed {
		t.Fatalf("Send after close: expected ErrSessionClosed got %v", err)
	}
	if got := drain(bob); len(got) != 2 {
		t.Fatalf("healthy recipient: expected 2 lines got %q", got)
	}
	if h.metrics.DeliveryFailures.Load() != 1 {
		t.Fatalf("DeliveryFailures: expected 1 got %d", h.metrics.DeliveryFailures.Load())
	}
}
