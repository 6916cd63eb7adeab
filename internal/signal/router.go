// Package signal implements the shared-registry signaling topology: one
// router in front of a process-wide room registry, with per-connection
// contexts bound to sessions on join.
package signal

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/core"
	"github.com/nilesh507/streamit/internal/domain"
	"github.com/nilesh507/streamit/internal/metrics"
	"github.com/nilesh507/streamit/internal/protocol"
)

type connState int

const (
	stateUnidentified connState = iota
	stateJoined
	stateClosed
)

// ConnContext carries one connection's identity through every handler:
// which session it is bound to, which room, and how to reach it. No handler
// relies on ambient state beyond the registry.
type ConnContext struct {
	SessionID domain.UserID
	RoomID    domain.RoomID
	Conn      core.SignalSender

	// Teardown cancels negotiation state owned by this connection's session.
	// Optional; the router invokes it once on disconnect.
	Teardown func()

	state connState
}

func (c *ConnContext) Joined() bool { return c.state == stateJoined }

// Router parses inbound frames, mutates registry state and forwards
// negotiation messages between sessions. Bad input from one connection is
// always answered or logged, never raised.
type Router struct {
	registry *core.Registry
	metrics  *metrics.Metrics
	limiter  *JoinRateLimiter
	capacity int
}

func NewRouter(registry *core.Registry, m *metrics.Metrics, limiter *JoinRateLimiter, capacity int) *Router {
	return &Router{
		registry: registry,
		metrics:  m,
		limiter:  limiter,
		capacity: capacity,
	}
}

// HandleFrame dispatches one inbound frame for the given connection.
func (rt *Router) HandleFrame(ctx *ConnContext, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			log.Warn().Str("module", "signal").Str("sid", string(ctx.SessionID)).Msg("unknown signal type")
			return
		}
		rt.metrics.ProtocolErrors.Inc()
		rt.sendError(ctx, "Failed to parse message")
		return
	}

	switch m := msg.(type) {
	case protocol.JoinRoom:
		rt.handleJoin(ctx, m)
	case protocol.CreateOffer:
		rt.forward(ctx, m.ToUserID, protocol.CreateOffer{
			FromUserID: ctx.SessionID,
			ToUserID:   m.ToUserID,
			SDP:        m.SDP,
		})
	case protocol.CreateAnswer:
		rt.forward(ctx, m.ToUserID, protocol.CreateAnswer{
			FromUserID: ctx.SessionID,
			ToUserID:   m.ToUserID,
			SDP:        m.SDP,
		})
	case protocol.IceCandidate:
		rt.handleCandidate(ctx, m)
	default:
		log.Warn().Str("module", "signal").Str("sid", string(ctx.SessionID)).Str("type", msg.Kind()).Msg("unexpected signal type")
	}
}

func (rt *Router) handleJoin(ctx *ConnContext, m protocol.JoinRoom) {
	if ctx.state != stateUnidentified {
		rt.sendError(ctx, "Already joined a room")
		return
	}
	if m.UserID == "" || m.RoomID == "" {
		rt.metrics.JoinRejections.WithLabelValues(metrics.RejectInvalid).Inc()
		rt.sendError(ctx, "Missing userId or roomId in joinRoom")
		return
	}
	if rt.limiter != nil && !rt.limiter.Allow(m.UserID) {
		rt.metrics.JoinRejections.WithLabelValues(metrics.RejectInvalid).Inc()
		rt.sendError(ctx, "Too many join attempts")
		return
	}

	user, err := domain.NewUser(m.UserID, m.Name)
	if err != nil {
		rt.metrics.JoinRejections.WithLabelValues(metrics.RejectInvalid).Inc()
		rt.sendError(ctx, err.Error())
		return
	}

	sess := core.NewSession(user, ctx.Conn)
	if err := rt.registry.AddSession(m.RoomID, sess, rt.capacity); err != nil {
		switch {
		case errors.Is(err, core.ErrRoomFull):
			rt.metrics.JoinRejections.WithLabelValues(metrics.RejectFull).Inc()
			rt.sendError(ctx, fmt.Sprintf("Room %s is full", m.RoomID))
		case errors.Is(err, core.ErrDuplicateSession), errors.Is(err, core.ErrSessionElsewhere):
			rt.metrics.JoinRejections.WithLabelValues(metrics.RejectDuplicate).Inc()
			rt.sendError(ctx, fmt.Sprintf("User %s already joined", m.UserID))
		default:
			rt.sendError(ctx, "Join failed")
		}
		return
	}

	ctx.SessionID = user.ID
	ctx.RoomID = m.RoomID
	ctx.state = stateJoined
	rt.metrics.Joins.Inc()
	rt.metrics.ActiveSessions.Inc()
	rt.metrics.Rooms.Set(float64(rt.registry.RoomCount()))
	log.Info().Str("module", "signal").Str("sid", string(user.ID)).Str("room", string(m.RoomID)).Msg("joined room")

	rt.send(ctx, protocol.JoinedRoom{UserID: user.ID, RoomID: m.RoomID})

	room, ok := rt.registry.FindRoomOf(user.ID)
	if !ok {
		return
	}
	others := make([]domain.User, 0, room.Len())
	for _, u := range room.Users() {
		if u.ID != user.ID {
			others = append(others, u)
		}
	}
	rt.send(ctx, protocol.ExistingUsers{Users: others})

	rt.broadcast(room, protocol.NewUser{FromUserID: user.ID}, user.ID)
}

func (rt *Router) handleCandidate(ctx *ConnContext, m protocol.IceCandidate) {
	if m.ToUserID == ctx.SessionID {
		// Self-targeted candidates are a client bug, not a protocol fault.
		log.Warn().Str("module", "signal").Str("sid", string(ctx.SessionID)).Msg("ignoring self-targeted candidate")
		return
	}
	rt.forward(ctx, m.ToUserID, protocol.IceCandidate{
		FromUserID: ctx.SessionID,
		ToUserID:   m.ToUserID,
		Candidate:  m.Candidate,
	})
}

// forward relays a negotiation message to the target session in the sender's
// room. The outbound fromUserId is always the sender's bound session id; the
// payload field is never trusted.
func (rt *Router) forward(ctx *ConnContext, to domain.UserID, out protocol.Message) {
	if ctx.state != stateJoined {
		rt.sendError(ctx, "Join a room first")
		return
	}
	room, ok := rt.registry.FindRoomOf(ctx.SessionID)
	if !ok {
		rt.sendError(ctx, "Room not found")
		return
	}
	target, ok := room.GetSession(to)
	if !ok {
		rt.sendError(ctx, fmt.Sprintf("User %s not found in room", to))
		return
	}
	if err := target.Send(protocol.MustEncode(out)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(to)).Msg("forward send failed, pruning target")
		rt.prune(room, to)
		rt.sendError(ctx, fmt.Sprintf("User %s not found in room", to))
		return
	}
	rt.metrics.Forwards.WithLabelValues(out.Kind()).Inc()
	log.Debug().Str("module", "signal").Str("from", string(ctx.SessionID)).Str("to", string(to)).Str("type", out.Kind()).Msg("forwarded")
}

// HandleDisconnect runs the lifecycle cleanup for a closing connection:
// membership removal, userLeft broadcast and negotiation teardown. A no-op
// for connections that never joined.
func (rt *Router) HandleDisconnect(ctx *ConnContext) {
	if ctx.state == stateClosed {
		return
	}
	wasJoined := ctx.state == stateJoined
	ctx.state = stateClosed

	if ctx.Teardown != nil {
		ctx.Teardown()
	}
	if !wasJoined {
		return
	}

	room, ok := rt.registry.FindRoomOf(ctx.SessionID)
	if ok {
		rt.prune(room, ctx.SessionID)
	}
	rt.metrics.ActiveSessions.Dec()
	rt.metrics.Rooms.Set(float64(rt.registry.RoomCount()))
	log.Info().Str("module", "signal").Str("sid", string(ctx.SessionID)).Str("room", string(ctx.RoomID)).Msg("disconnected")
}

// prune removes a session and announces its departure. Members whose
// transport fails during the announcement are pruned in turn, so a wave of
// dead connections cannot stall the room.
func (rt *Router) prune(room *core.Room, id domain.UserID) {
	departed := []domain.UserID{id}
	for len(departed) > 0 {
		gone := departed[0]
		departed = departed[1:]
		if !rt.registry.RemoveSession(room.ID(), gone) {
			continue
		}
		res := room.Broadcast(protocol.MustEncode(protocol.UserLeft{UserID: gone}), gone)
		departed = append(departed, res.Failed...)
	}
}

func (rt *Router) broadcast(room *core.Room, m protocol.Message, exclude domain.UserID) {
	res := room.Broadcast(protocol.MustEncode(m), exclude)
	for _, failed := range res.Failed {
		rt.prune(room, failed)
	}
}

func (rt *Router) send(ctx *ConnContext, m protocol.Message) {
	if err := ctx.Conn.TrySend(protocol.MustEncode(m)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(ctx.SessionID)).Msg("send failed")
	}
}

func (rt *Router) sendError(ctx *ConnContext, msg string) {
	rt.send(ctx, protocol.ErrorMessage{Message: msg})
}
