package memory

import (
	"sync"
)

// RoomRegistry keeps the authoritative room -> members map. Rooms are
// created implicitly on first join and deleted when the last member leaves.
type RoomRegistry interface {
	// Join adds a connection to a room, creating the room if needed.
	// Adding an already-present member is a no-op.
	Join(roomID, connID string)

	// Leave removes a connection from a room. Returns true when the room
	// became empty and was deleted.
	Leave(roomID, connID string) bool

	// Members returns connection ids in join order.
	Members(roomID string) []string

	Contains(roomID, connID string) bool

	Count() int
}

type roomRegistry struct {
	rooms map[string][]string
	mu    sync.RWMutex
}

func NewRoomRegistry() RoomRegistry {
	return &roomRegistry{
		rooms: make(map[string][]string),
	}
}

func (r *roomRegistry) Join(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.rooms[roomID] {
		if id == connID {
			return
		}
	}

	r.rooms[roomID] = append(r.rooms[roomID], connID)
}

func (r *roomRegistry) Leave(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	for i, id := range members {
		if id == connID {
			r.rooms[roomID] = append(members[:i], members[i+1:]...)
			break
		}
	}

	if len(r.rooms[roomID]) == 0 {
		delete(r.rooms, roomID)
		return true
	}

	return false
}

func (r *roomRegistry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]string, len(members))
	copy(out, members)

	return out
}

func (r *roomRegistry) Contains(roomID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.rooms[roomID] {
		if id == connID {
			return true
		}
	}

	return false
}

func (r *roomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
