package server

import (
	"sort"
	"sync"

	"github.com/vovakirdan/ruchat-server/pkg/model"
)

// RoomDirectory maps room names to member identities. An identity is a
// member of at most one room; Join and Move relocate it under a single
// lock so a concurrent MembersOf never sees it in two rooms or none.
type RoomDirectory struct {
	mu      sync.RWMutex
	order   []string                       // room names, creation order
	members map[string]map[string]struct{} // room -> identities
	roomOf  map[string]string              // identity -> room
}

// NewRoomDirectory creates a directory holding the main room followed by
// the given rooms. Duplicates and invalid names are skipped.
func NewRoomDirectory(rooms ...string) *RoomDirectory {
	d := &RoomDirectory{
		members: make(map[string]map[string]struct{}),
		roomOf:  make(map[string]string),
	}
	d.add(model.MainRoom)
	for _, name := range rooms {
		_ = d.CreateRoom(name)
	}
	return d
}

func (d *RoomDirectory) add(name string) {
	d.order = append(d.order, name)
	d.members[name] = make(map[string]struct{})
}

// CreateRoom adds an empty room. Names are trimmed first.
// Returns model.ErrEmptyArgument, model.ErrReservedRoomName,
// model.ErrRoomExists or a name validation error.
func (d *RoomDirectory) CreateRoom(name string) error {
	name = model.NormalizeRoomName(name)
	if err := model.ValidateRoomName(name); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.members[name]; ok {
		return model.ErrRoomExists
	}
	d.add(name)
	return nil
}

// RoomExists reports whether name is a room.
func (d *RoomDirectory) RoomExists(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.members[name]
	return ok
}

// Join puts identity in room, taking it out of any room it was in.
// Joining the current room is a no-op.
func (d *RoomDirectory) Join(room, identity string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.members[room]
	if !ok {
		return model.ErrRoomNotFound
	}
	if prev, ok := d.roomOf[identity]; ok && prev != room {
		delete(d.members[prev], identity)
	}
	set[identity] = struct{}{}
	d.roomOf[identity] = room
	return nil
}

// Leave removes identity from room. No-op if it is not a member there.
func (d *RoomDirectory) Leave(room, identity string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.roomOf[identity] != room {
		return
	}
	delete(d.members[room], identity)
	delete(d.roomOf, identity)
}

// Move relocates identity from one room to another atomically.
// Returns model.ErrRoomNotFound if to does not exist and model.ErrNotMember
// if identity is not currently in from.
func (d *RoomDirectory) Move(identity, from, to string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dst, ok := d.members[to]
	if !ok {
		return model.ErrRoomNotFound
	}
	if d.roomOf[identity] != from {
		return model.ErrNotMember
	}
	if from == to {
		return nil
	}
	delete(d.members[from], identity)
	dst[identity] = struct{}{}
	d.roomOf[identity] = to
	return nil
}

// MembersOf returns the identities in room, sorted. ok is false if the
// room does not exist.
func (d *RoomDirectory) MembersOf(room string) (members []string, ok bool) {
	d.mu.RLock()
	set, ok := d.members[room]
	if !ok {
		d.mu.RUnlock()
		return nil, false
	}
	members = make([]string, 0, len(set))
	for id := range set {
		members = append(members, id)
	}
	d.mu.RUnlock()

	sort.Strings(members)
	return members, true
}

// RoomOf returns the room identity is in.
func (d *RoomDirectory) RoomOf(identity string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.roomOf[identity]
	return room, ok
}

// ListRooms returns room names in creation order.
func (d *RoomDirectory) ListRooms() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// MembersCount returns how many identities are in room.
func (d *RoomDirectory) MembersCount(room string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.members[room])
}

// Snapshot returns every room's members taken under one lock.
func (d *RoomDirectory) Snapshot() map[string][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string][]string, len(d.members))
	for room, set := range d.members {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[room] = ids
	}
	return out
}
