package core

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/domain"
)

var (
	ErrRoomFull         = errors.New("room is full")
	ErrDuplicateSession = errors.New("session id already in room")
)

// Room is a threadsafe capacity-bounded membership set.
// It never closes adapter-owned transport resources.
type Room struct {
	id       domain.RoomID
	capacity int

	mu       sync.RWMutex
	sessions map[domain.UserID]*Session
}

func NewRoom(id domain.RoomID, capacity int) *Room {
	if capacity <= 0 {
		capacity = domain.DefaultRoomCapacity
	}
	return &Room{
		id:       id,
		capacity: capacity,
		sessions: make(map[domain.UserID]*Session),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }
func (r *Room) Capacity() int     { return r.capacity }

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AddSession checks capacity and inserts as one atomic step, so concurrent
// joins can never push the room past its capacity. Joining with an id that is
// already present is rejected, never an overwrite.
func (r *Room) AddSession(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		return ErrDuplicateSession
	}
	if len(r.sessions) >= r.capacity {
		return ErrRoomFull
	}
	r.sessions[s.ID()] = s
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(s.ID())).Int("count", len(r.sessions)).Msg("session added")
	return nil
}

func (r *Room) RemoveSession(id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(id)).Msg("session removed")
	return true
}

func (r *Room) GetSession(id domain.UserID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns a point-in-time snapshot, not a live view.
func (r *Room) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Users returns member identities for API responses and existingUsers frames.
func (r *Room) Users() []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.User, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.User())
	}
	return out
}

// BroadcastResult reports delivery stats and the members whose transport
// failed, for the caller to prune.
type BroadcastResult struct {
	Delivered int
	Failed    []domain.UserID
}

// Broadcast sends payload to every current member except exclude.
// The member set is snapshotted first, so joins and leaves racing with the
// fan-out neither crash it nor receive a half-consistent view. A failed send
// is recorded and does not stop delivery to the rest.
func (r *Room) Broadcast(payload Frame, exclude domain.UserID) BroadcastResult {
	targets := r.Sessions()

	var res BroadcastResult
	for _, s := range targets {
		if s.ID() == exclude {
			continue
		}
		if err := s.Send(payload); err != nil {
			log.Warn().Err(err).Str("module", "core.room").Str("room", string(r.id)).Str("user", string(s.ID())).Msg("broadcast send failed")
			res.Failed = append(res.Failed, s.ID())
			continue
		}
		res.Delivered++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Int("delivered", res.Delivered).Int("failed", len(res.Failed)).Msg("broadcast result")
	return res
}
