// Package actor implements the isolated per-room topology: every room is a
// single-goroutine actor owning its membership, so room state needs no locks
// and rooms never contend with each other.
package actor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/core"
	"github.com/nilesh507/streamit/internal/domain"
	"github.com/nilesh507/streamit/internal/metrics"
	"github.com/nilesh507/streamit/internal/protocol"
)

var (
	ErrRoomFull  = errors.New("room is full")
	ErrDuplicate = errors.New("user id already admitted")
	ErrStopped   = errors.New("room actor stopped")
)

type member struct {
	user   domain.User
	sender core.SignalSender // nil while only reserved
}

// RoomActor serializes every mutation of one room through its command loop.
// Members are admitted in two phases: Reserve holds a capacity slot before
// the websocket upgrade, Bind attaches the transport after it.
type RoomActor struct {
	id       domain.RoomID
	capacity int
	metrics  *metrics.Metrics

	cmds chan func()
	done chan struct{}
	stop sync.Once

	// owned by the run goroutine
	members map[domain.UserID]*member
}

func NewRoomActor(id domain.RoomID, capacity int, m *metrics.Metrics) *RoomActor {
	if capacity <= 0 {
		capacity = domain.DefaultRoomCapacity
	}
	a := &RoomActor{
		id:       id,
		capacity: capacity,
		metrics:  m,
		cmds:     make(chan func(), 64),
		done:     make(chan struct{}),
		members:  make(map[domain.UserID]*member),
	}
	go a.run()
	return a
}

func (a *RoomActor) ID() domain.RoomID { return a.id }

func (a *RoomActor) run() {
	for {
		select {
		case fn := <-a.cmds:
			fn()
		case <-a.done:
			return
		}
	}
}

// exec runs fn inside the actor goroutine and waits for it.
func (a *RoomActor) exec(fn func()) error {
	ran := make(chan struct{})
	select {
	case a.cmds <- func() {
		fn()
		close(ran)
	}:
	case <-a.done:
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-a.done:
		return ErrStopped
	}
}

// post schedules fn without waiting.
func (a *RoomActor) post(fn func()) {
	select {
	case a.cmds <- fn:
	case <-a.done:
	}
}

// Reserve claims a membership slot before the connection is upgraded, so the
// capacity decision happens while a plain HTTP error can still be returned.
func (a *RoomActor) Reserve(user domain.User) error {
	var err error
	if execErr := a.exec(func() {
		if _, ok := a.members[user.ID]; ok {
			err = ErrDuplicate
			return
		}
		if len(a.members) >= a.capacity {
			err = ErrRoomFull
			return
		}
		a.members[user.ID] = &member{user: user}
	}); execErr != nil {
		return execErr
	}
	return err
}

// Release drops a reservation whose upgrade never completed.
func (a *RoomActor) Release(id domain.UserID) {
	a.post(func() {
		m, ok := a.members[id]
		if ok && m.sender == nil {
			delete(a.members, id)
		}
	})
}

// Bind attaches the upgraded transport to a reserved slot, sends the
// existingUsers snapshot to the joiner and announces the newUser to everyone
// else.
func (a *RoomActor) Bind(id domain.UserID, sender core.SignalSender) {
	a.post(func() {
		m, ok := a.members[id]
		if !ok {
			// Reservation expired underneath us; the caller closes the socket.
			sender.Close()
			return
		}
		m.sender = sender
		a.metrics.Joins.Inc()
		a.metrics.ActiveSessions.Inc()
		log.Info().Str("module", "actor").Str("room", string(a.id)).Str("user", string(id)).Int("count", len(a.members)).Msg("member admitted")

		others := make([]domain.User, 0, len(a.members))
		for uid, other := range a.members {
			if uid != id && other.sender != nil {
				others = append(others, other.user)
			}
		}
		a.sendTo(m, protocol.ExistingUsers{Users: others})
		a.broadcast(protocol.NewUser{FromUserID: id}, id)
	})
}

// HandleFrame processes one inbound frame from an admitted member.
func (a *RoomActor) HandleFrame(id domain.UserID, data []byte) {
	a.post(func() {
		from, ok := a.members[id]
		if !ok {
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				log.Warn().Str("module", "actor").Str("room", string(a.id)).Str("user", string(id)).Msg("unknown signal type")
				return
			}
			a.metrics.ProtocolErrors.Inc()
			a.sendTo(from, protocol.ErrorMessage{Message: "Failed to parse message"})
			return
		}

		switch m := msg.(type) {
		case protocol.CreateOffer:
			a.relay(from, m.ToUserID, protocol.CreateOffer{FromUserID: id, ToUserID: m.ToUserID, SDP: m.SDP})
		case protocol.CreateAnswer:
			a.relay(from, m.ToUserID, protocol.CreateAnswer{FromUserID: id, ToUserID: m.ToUserID, SDP: m.SDP})
		case protocol.IceCandidate:
			if m.ToUserID == id {
				log.Warn().Str("module", "actor").Str("room", string(a.id)).Str("user", string(id)).Msg("ignoring self-targeted candidate")
				return
			}
			a.relay(from, m.ToUserID, protocol.IceCandidate{FromUserID: id, ToUserID: m.ToUserID, Candidate: m.Candidate})
		default:
			log.Warn().Str("module", "actor").Str("room", string(a.id)).Str("user", string(id)).Str("type", msg.Kind()).Msg("unexpected signal type")
		}
	})
}

// relay forwards to the target member; the outbound fromUserId is always the
// admitted sender id.
func (a *RoomActor) relay(from *member, to domain.UserID, out protocol.Message) {
	target, ok := a.members[to]
	if !ok || target.sender == nil {
		a.sendTo(from, protocol.ErrorMessage{Message: fmt.Sprintf("User %s not found in room", to)})
		return
	}
	if err := target.sender.TrySend(protocol.MustEncode(out)); err != nil {
		log.Warn().Err(err).Str("module", "actor").Str("room", string(a.id)).Str("user", string(to)).Msg("relay send failed, pruning")
		a.removeLocked(to)
		a.sendTo(from, protocol.ErrorMessage{Message: fmt.Sprintf("User %s not found in room", to)})
		return
	}
	a.metrics.Forwards.WithLabelValues(out.Kind()).Inc()
}

// Disconnect removes the member and announces the departure.
func (a *RoomActor) Disconnect(id domain.UserID) {
	a.post(func() {
		if _, ok := a.members[id]; !ok {
			return
		}
		a.removeLocked(id)
		a.broadcast(protocol.UserLeft{UserID: id}, id)
		log.Info().Str("module", "actor").Str("room", string(a.id)).Str("user", string(id)).Msg("member left")
	})
}

// removeLocked runs inside the actor goroutine only.
func (a *RoomActor) removeLocked(id domain.UserID) {
	if m, ok := a.members[id]; ok {
		delete(a.members, id)
		if m.sender != nil {
			a.metrics.ActiveSessions.Dec()
		}
	}
}

// broadcast fans out inside the actor goroutine. A failed target is pruned
// silently; the fan-out continues.
func (a *RoomActor) broadcast(msg protocol.Message, exclude domain.UserID) {
	payload := protocol.MustEncode(msg)
	for uid, m := range a.members {
		if uid == exclude || m.sender == nil {
			continue
		}
		if err := m.sender.TrySend(payload); err != nil {
			log.Warn().Err(err).Str("module", "actor").Str("room", string(a.id)).Str("user", string(uid)).Msg("broadcast send failed, pruning")
			a.removeLocked(uid)
		}
	}
}

func (a *RoomActor) sendTo(m *member, msg protocol.Message) {
	if m.sender == nil {
		return
	}
	if err := m.sender.TrySend(protocol.MustEncode(msg)); err != nil {
		log.Warn().Err(err).Str("module", "actor").Str("room", string(a.id)).Str("user", string(m.user.ID)).Msg("send failed")
	}
}

// Len reports current membership, reservations included.
func (a *RoomActor) Len() int {
	n := 0
	_ = a.exec(func() { n = len(a.members) })
	return n
}

// Users returns a membership snapshot of admitted members.
func (a *RoomActor) Users() []domain.User {
	var out []domain.User
	_ = a.exec(func() {
		out = make([]domain.User, 0, len(a.members))
		for _, m := range a.members {
			if m.sender != nil {
				out = append(out, m.user)
			}
		}
	})
	return out
}

// Stop terminates the command loop. Pending commands are abandoned; sockets
// are owned and closed by their controllers.
func (a *RoomActor) Stop() {
	a.stop.Do(func() { close(a.done) })
}
