package core

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/domain"
)

// ErrSessionElsewhere rejects a join for a session id that is already bound
// to some room; a session lives in exactly one room at a time.
var ErrSessionElsewhere = errors.New("session already in a room")

// Registry is the process-wide room directory. It owns the room map and the
// reverse index from session id to room id; the index is updated in the same
// critical section as room membership, so the two can never disagree.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
	index map[domain.UserID]domain.RoomID
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]*Room),
		index: make(map[domain.UserID]domain.RoomID),
	}
}

// GetOrCreateRoom returns the existing room or creates one with the given
// capacity. The first creator's capacity wins; the argument is ignored when
// the room already exists.
func (r *Registry) GetOrCreateRoom(id domain.RoomID, capacity int) *Room {
	r.mu.RLock()
	room, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return room
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok = r.rooms[id]; ok {
		return room
	}
	room = NewRoom(id, capacity)
	r.rooms[id] = room
	log.Info().Str("module", "core.registry").Str("room", string(id)).Int("capacity", room.Capacity()).Msg("room created")
	return room
}

// GetRoom returns the room without creating it.
func (r *Registry) GetRoom(id domain.RoomID) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// AddSession inserts the session into the room (creating the room if needed)
// and records the reverse index entry, atomically.
func (r *Registry) AddSession(roomID domain.RoomID, s *Session, capacity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, bound := r.index[s.ID()]; bound {
		return ErrSessionElsewhere
	}
	room, ok := r.rooms[roomID]
	if !ok {
		room = NewRoom(roomID, capacity)
		r.rooms[roomID] = room
		log.Info().Str("module", "core.registry").Str("room", string(roomID)).Int("capacity", room.Capacity()).Msg("room created")
	}
	if err := room.AddSession(s); err != nil {
		return err
	}
	r.index[s.ID()] = roomID
	return nil
}

// RemoveSession drops the session from the room and the reverse index
// together. Reports false when the room or the session is absent; that is an
// expected outcome, not a fault. A room left empty is collected; callers
// never observe the difference because joins recreate on demand.
func (r *Registry) RemoveSession(roomID domain.RoomID, id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if !room.RemoveSession(id) {
		return false
	}
	delete(r.index, id)
	if room.Len() == 0 {
		delete(r.rooms, roomID)
		log.Info().Str("module", "core.registry").Str("room", string(roomID)).Msg("empty room collected")
	}
	return true
}

// FindRoomOf resolves which room currently holds the session, via the
// reverse index rather than a scan over all rooms.
func (r *Registry) FindRoomOf(id domain.UserID) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.index[id]
	if !ok {
		return nil, false
	}
	room, ok := r.rooms[roomID]
	return room, ok
}

// DeleteRoom is the explicit administrative removal; member index entries go
// with it. Transport teardown of evicted members is the adapter's job.
func (r *Registry) DeleteRoom(id domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return false
	}
	for _, s := range room.Sessions() {
		delete(r.index, s.ID())
	}
	delete(r.rooms, id)
	log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room deleted")
	return true
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
	Capacity    int           `json:"capacity"`
}

func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, room := range r.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: room.Len(), Capacity: room.Capacity()})
	}
	return out
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
