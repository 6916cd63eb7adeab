package signal

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nilesh507/streamit/internal/core"
	"github.com/nilesh507/streamit/internal/domain"
	"github.com/nilesh507/streamit/internal/metrics"
	"github.com/nilesh507/streamit/internal/protocol"
)

type fakeSender struct {
	frames []core.Frame
	fail   bool
	closed bool
}

func (f *fakeSender) TrySend(frame core.Frame) error {
	if f.fail {
		return ErrConnClosed
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSender) Close() { f.closed = true }

// received decodes every frame the sender accepted so far.
func (f *fakeSender) received(t *testing.T) []protocol.Message {
	t.Helper()
	out := make([]protocol.Message, 0, len(f.frames))
	for _, raw := range f.frames {
		m, err := protocol.Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeSender) lastError(t *testing.T) protocol.ErrorMessage {
	t.Helper()
	msgs := f.received(t)
	if len(msgs) == 0 {
		t.Fatalf("no frames received, want an error message")
	}
	e, ok := msgs[len(msgs)-1].(protocol.ErrorMessage)
	if !ok {
		t.Fatalf("last message is %T, want protocol.ErrorMessage", msgs[len(msgs)-1])
	}
	return e
}

func newTestRouter(capacity int) (*Router, *core.Registry) {
	reg := core.NewRegistry()
	m := metrics.New(prometheus.NewRegistry())
	return NewRouter(reg, m, nil, capacity), reg
}

func join(t *testing.T, rt *Router, ctx *ConnContext, uid domain.UserID, room domain.RoomID) {
	t.Helper()
	rt.HandleFrame(ctx, protocol.MustEncode(protocol.JoinRoom{UserID: uid, RoomID: room}))
	if !ctx.Joined() {
		t.Fatalf("ctx.Joined()=false after joinRoom for %s", uid)
	}
}

func TestRouter_JoinFlow(t *testing.T) {
	rt, _ := newTestRouter(5)

	alice := &fakeSender{}
	actx := &ConnContext{Conn: alice}
	join(t, rt, actx, "alice", "room1")

	msgs := alice.received(t)
	if len(msgs) != 2 {
		t.Fatalf("alice received %d messages, want 2", len(msgs))
	}
	joined, ok := msgs[0].(protocol.JoinedRoom)
	if !ok {
		t.Fatalf("first message is %T, want protocol.JoinedRoom", msgs[0])
	}
	if joined.UserID != "alice" || joined.RoomID != "room1" {
		t.Fatalf("joinedRoom=%+v, want alice/room1", joined)
	}
	existing, ok := msgs[1].(protocol.ExistingUsers)
	if !ok {
		t.Fatalf("second message is %T, want protocol.ExistingUsers", msgs[1])
	}
	if len(existing.Users) != 0 {
		t.Fatalf("existingUsers has %d users, want 0", len(existing.Users))
	}

	bob := &fakeSender{}
	bctx := &ConnContext{Conn: bob}
	join(t, rt, bctx, "bob", "room1")

	bmsgs := bob.received(t)
	existing, ok = bmsgs[1].(protocol.ExistingUsers)
	if !ok {
		t.Fatalf("bob's second message is %T, want protocol.ExistingUsers", bmsgs[1])
	}
	if len(existing.Users) != 1 || existing.Users[0].ID != "alice" {
		t.Fatalf("bob's existingUsers=%+v, want [alice]", existing.Users)
	}

	amsgs := alice.received(t)
	last, ok := amsgs[len(amsgs)-1].(protocol.NewUser)
	if !ok {
		t.Fatalf("alice's last message is %T, want protocol.NewUser", amsgs[len(amsgs)-1])
	}
	if last.FromUserID != "bob" {
		t.Fatalf("newUser.fromUserId=%s, want bob", last.FromUserID)
	}
}

func TestRouter_RoomFull(t *testing.T) {
	rt, _ := newTestRouter(2)

	for i := 0; i < 2; i++ {
		ctx := &ConnContext{Conn: &fakeSender{}}
		join(t, rt, ctx, domain.UserID(fmt.Sprintf("u%d", i)), "room1")
	}

	late := &fakeSender{}
	ctx := &ConnContext{Conn: late}
	rt.HandleFrame(ctx, protocol.MustEncode(protocol.JoinRoom{UserID: "late", RoomID: "room1"}))
	if ctx.Joined() {
		t.Fatalf("join succeeded in a full room")
	}
	if got := late.lastError(t).Message; got != "Room room1 is full" {
		t.Fatalf("error=%q, want %q", got, "Room room1 is full")
	}
}

func TestRouter_DuplicateJoinRejected(t *testing.T) {
	rt, _ := newTestRouter(5)

	first := &fakeSender{}
	join(t, rt, &ConnContext{Conn: first}, "alice", "room1")

	second := &fakeSender{}
	ctx := &ConnContext{Conn: second}
	rt.HandleFrame(ctx, protocol.MustEncode(protocol.JoinRoom{UserID: "alice", RoomID: "room1"}))
	if ctx.Joined() {
		t.Fatalf("second connection joined with an id already in use")
	}
	if got := second.lastError(t).Message; got != "User alice already joined" {
		t.Fatalf("error=%q, want %q", got, "User alice already joined")
	}
}

func TestRouter_JoinMissingFields(t *testing.T) {
	rt, _ := newTestRouter(5)

	conn := &fakeSender{}
	ctx := &ConnContext{Conn: conn}
	rt.HandleFrame(ctx, protocol.MustEncode(protocol.JoinRoom{UserID: "", RoomID: "room1"}))
	if got := conn.lastError(t).Message; got != "Missing userId or roomId in joinRoom" {
		t.Fatalf("error=%q, want %q", got, "Missing userId or roomId in joinRoom")
	}
}

func TestRouter_SecondJoinOnSameConnection(t *testing.T) {
	rt, _ := newTestRouter(5)

	conn := &fakeSender{}
	ctx := &ConnContext{Conn: conn}
	join(t, rt, ctx, "alice", "room1")

	rt.HandleFrame(ctx, protocol.MustEncode(protocol.JoinRoom{UserID: "alice2", RoomID: "room2"}))
	if got := conn.lastError(t).Message; got != "Already joined a room" {
		t.Fatalf("error=%q, want %q", got, "Already joined a room")
	}
	if ctx.SessionID != "alice" {
		t.Fatalf("SessionID=%s after rejected rejoin, want alice", ctx.SessionID)
	}
}

func TestRouter_ForwardOverridesFromUserID(t *testing.T) {
	rt, _ := newTestRouter(5)

	alice := &fakeSender{}
	actx := &ConnContext{Conn: alice}
	join(t, rt, actx, "alice", "room1")

	bob := &fakeSender{}
	bctx := &ConnContext{Conn: bob}
	join(t, rt, bctx, "bob", "room1")

	// The payload claims a forged sender; the relayed frame must carry the
	// bound session id instead.
	rt.HandleFrame(actx, protocol.MustEncode(protocol.CreateOffer{
		FromUserID: "mallory",
		ToUserID:   "bob",
		SDP:        json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}))

	bmsgs := bob.received(t)
	offer, ok := bmsgs[len(bmsgs)-1].(protocol.CreateOffer)
	if !ok {
		t.Fatalf("bob's last message is %T, want protocol.CreateOffer", bmsgs[len(bmsgs)-1])
	}
	if offer.FromUserID != "alice" {
		t.Fatalf("relayed fromUserId=%s, want alice", offer.FromUserID)
	}
	if string(offer.SDP) != `{"type":"offer","sdp":"v=0"}` {
		t.Fatalf("relayed sdp=%s, payload was altered", offer.SDP)
	}
}

func TestRouter_ForwardBeforeJoin(t *testing.T) {
	rt, _ := newTestRouter(5)

	conn := &fakeSender{}
	ctx := &ConnContext{Conn: conn}
	rt.HandleFrame(ctx, protocol.MustEncode(protocol.CreateOffer{ToUserID: "bob"}))
	if got := conn.lastError(t).Message; got != "Join a room first" {
		t.Fatalf("error=%q, want %q", got, "Join a room first")
	}
}

func TestRouter_ForwardToMissingTarget(t *testing.T) {
	rt, _ := newTestRouter(5)

	alice := &fakeSender{}
	actx := &ConnContext{Conn: alice}
	join(t, rt, actx, "alice", "room1")

	before := len(alice.frames)
	rt.HandleFrame(actx, protocol.MustEncode(protocol.CreateAnswer{ToUserID: "ghost"}))
	if got := len(alice.frames) - before; got != 1 {
		t.Fatalf("sender received %d frames for a missing target, want exactly 1 error", got)
	}
	if got := alice.lastError(t).Message; got != "User ghost not found in room" {
		t.Fatalf("error=%q, want %q", got, "User ghost not found in room")
	}
}

func TestRouter_SelfCandidateIgnored(t *testing.T) {
	rt, _ := newTestRouter(5)

	alice := &fakeSender{}
	actx := &ConnContext{Conn: alice}
	join(t, rt, actx, "alice", "room1")

	before := len(alice.frames)
	rt.HandleFrame(actx, protocol.MustEncode(protocol.IceCandidate{
		ToUserID:  "alice",
		Candidate: json.RawMessage(`{"candidate":"candidate:0"}`),
	}))
	if len(alice.frames) != before {
		t.Fatalf("self-targeted candidate produced %d frames, want none", len(alice.frames)-before)
	}
}

func TestRouter_ForwardToDeadTargetPrunes(t *testing.T) {
	rt, reg := newTestRouter(5)

	alice := &fakeSender{}
	actx := &ConnContext{Conn: alice}
	join(t, rt, actx, "alice", "room1")

	bob := &fakeSender{}
	bctx := &ConnContext{Conn: bob}
	join(t, rt, bctx, "bob", "room1")

	bob.fail = true
	rt.HandleFrame(actx, protocol.MustEncode(protocol.CreateOffer{ToUserID: "bob"}))

	if got := alice.lastError(t).Message; got != "User bob not found in room" {
		t.Fatalf("error=%q, want %q", got, "User bob not found in room")
	}
	if _, ok := reg.FindRoomOf("bob"); ok {
		t.Fatalf("dead target still registered after failed forward")
	}
}

func TestRouter_DisconnectBroadcastsUserLeft(t *testing.T) {
	rt, reg := newTestRouter(5)

	alice := &fakeSender{}
	actx := &ConnContext{Conn: alice}
	join(t, rt, actx, "alice", "room1")

	bob := &fakeSender{}
	bctx := &ConnContext{Conn: bob}
	join(t, rt, bctx, "bob", "room1")

	tornDown := 0
	bctx.Teardown = func() { tornDown++ }

	rt.HandleDisconnect(bctx)
	rt.HandleDisconnect(bctx) // idempotent

	if tornDown != 1 {
		t.Fatalf("Teardown ran %d times, want 1", tornDown)
	}
	if _, ok := reg.FindRoomOf("bob"); ok {
		t.Fatalf("bob still registered after disconnect")
	}

	amsgs := alice.received(t)
	left, ok := amsgs[len(amsgs)-1].(protocol.UserLeft)
	if !ok {
		t.Fatalf("alice's last message is %T, want protocol.UserLeft", amsgs[len(amsgs)-1])
	}
	if left.UserID != "bob" {
		t.Fatalf("userLeft.userId=%s, want bob", left.UserID)
	}
}

func TestRouter_DisconnectBeforeJoin(t *testing.T) {
	rt, reg := newTestRouter(5)

	ctx := &ConnContext{Conn: &fakeSender{}}
	rt.HandleDisconnect(ctx)

	if got := reg.RoomCount(); got != 0 {
		t.Fatalf("RoomCount()=%d after unjoined disconnect, want 0", got)
	}
}

func TestRouter_MalformedFrame(t *testing.T) {
	rt, _ := newTestRouter(5)

	conn := &fakeSender{}
	ctx := &ConnContext{Conn: conn}
	rt.HandleFrame(ctx, []byte("not json"))
	if got := conn.lastError(t).Message; got != "Failed to parse message" {
		t.Fatalf("error=%q, want %q", got, "Failed to parse message")
	}
}

func TestRouter_UnknownTypeIgnored(t *testing.T) {
	rt, _ := newTestRouter(5)

	conn := &fakeSender{}
	ctx := &ConnContext{Conn: conn}
	rt.HandleFrame(ctx, []byte(`{"type":"mute"}`))
	if len(conn.frames) != 0 {
		t.Fatalf("unknown type produced %d frames, want none", len(conn.frames))
	}
}

func TestRouter_JoinRateLimited(t *testing.T) {
	reg := core.NewRegistry()
	m := metrics.New(prometheus.NewRegistry())
	rt := NewRouter(reg, m, NewJoinRateLimiter(1, time.Minute), 5)

	first := &fakeSender{}
	join(t, rt, &ConnContext{Conn: first}, "alice", "room1")
	rt.HandleDisconnect(&ConnContext{SessionID: "alice", RoomID: "room1", Conn: first, state: stateJoined})

	retry := &fakeSender{}
	ctx := &ConnContext{Conn: retry}
	rt.HandleFrame(ctx, protocol.MustEncode(protocol.JoinRoom{UserID: "alice", RoomID: "room1"}))
	if ctx.Joined() {
		t.Fatalf("join succeeded past the rate limit")
	}
	if got := retry.lastError(t).Message; got != "Too many join attempts" {
		t.Fatalf("error=%q, want %q", got, "Too many join attempts")
	}
}
