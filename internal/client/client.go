// Package client is a Go signaling client: it joins a room on the shared
// endpoint, offers to the peers it discovers and runs one negotiation engine
// per remote peer.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/domain"
	"github.com/nilesh507/streamit/internal/negotiation"
	"github.com/nilesh507/streamit/internal/protocol"
	"github.com/nilesh507/streamit/internal/rtc"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client owns one websocket to the signaling server and the negotiation
// state for every remote peer in the room.
type Client struct {
	serverURL string
	user      domain.User
	roomID    domain.RoomID
	rtcCfg    webrtc.Configuration

	conn     *websocket.Conn
	outgoing chan []byte
	done     chan struct{}
	stop     sync.Once

	engines *negotiation.Set

	mu    sync.Mutex
	peers map[domain.UserID]*rtc.PeerConnection
}

func New(serverURL string, user domain.User, roomID domain.RoomID, rtcCfg webrtc.Configuration, negotiationTimeout time.Duration) *Client {
	c := &Client{
		serverURL: serverURL,
		user:      user,
		roomID:    roomID,
		rtcCfg:    rtcCfg,
		outgoing:  make(chan []byte, 32),
		done:      make(chan struct{}),
		peers:     make(map[domain.UserID]*rtc.PeerConnection),
	}
	c.engines = negotiation.NewSet(c.newTransport, negotiationTimeout)
	return c
}

// newTransport builds the pion connection for a newly tracked remote and
// wires its gathered candidates back through the signaling channel.
func (c *Client) newTransport(remote domain.UserID) (negotiation.PeerTransport, error) {
	pc, err := rtc.NewPeerConnection(c.rtcCfg, remote)
	if err != nil {
		return nil, err
	}
	pc.OnICECandidate(func(candidate json.RawMessage) {
		c.send(protocol.IceCandidate{
			FromUserID: c.user.ID,
			ToUserID:   remote,
			Candidate:  candidate,
		})
	})
	c.mu.Lock()
	c.peers[remote] = pc
	c.mu.Unlock()
	return pc, nil
}

func (c *Client) peer(remote domain.UserID) (*rtc.PeerConnection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.peers[remote]
	return pc, ok
}

// Run dials the server, joins the room and processes signaling until the
// context is canceled or the connection drops.
func (c *Client) Run(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.serverURL, err)
	}
	c.conn = conn

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.writePump()

	c.send(protocol.JoinRoom{UserID: c.user.ID, Name: c.user.Name, RoomID: c.roomID})

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	return c.readLoop()
}

func (c *Client) readLoop() error {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
				return err
			}
		}
		c.handleFrame(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "client").Msg("write error")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("undecodable frame")
		return
	}

	switch m := msg.(type) {
	case protocol.JoinedRoom:
		log.Info().Str("module", "client").Str("room", string(m.RoomID)).Msg("joined room")
	case protocol.ExistingUsers:
		// The newcomer initiates towards everyone already present.
		for _, u := range m.Users {
			c.initiateOffer(u.ID)
		}
	case protocol.NewUser:
		// The new arrival offers to us; nothing to do until it lands.
		log.Info().Str("module", "client").Str("user", string(m.FromUserID)).Msg("new user in room")
	case protocol.CreateOffer:
		c.handleOffer(m)
	case protocol.CreateAnswer:
		c.handleAnswer(m)
	case protocol.IceCandidate:
		c.handleCandidate(m)
	case protocol.UserLeft:
		log.Info().Str("module", "client").Str("user", string(m.UserID)).Msg("user left")
		c.engines.Remove(m.UserID)
		c.mu.Lock()
		delete(c.peers, m.UserID)
		c.mu.Unlock()
	case protocol.ErrorMessage:
		log.Warn().Str("module", "client").Str("message", m.Message).Msg("server error")
	default:
		log.Warn().Str("module", "client").Str("type", msg.Kind()).Msg("unexpected message")
	}
}

func (c *Client) initiateOffer(remote domain.UserID) {
	engine, err := c.engines.Get(remote)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("remote", string(remote)).Msg("engine create")
		return
	}
	engine.MarkNegotiating()

	pc, ok := c.peer(remote)
	if !ok {
		return
	}
	offer, err := pc.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("remote", string(remote)).Msg("create offer")
		c.engines.Remove(remote)
		return
	}
	c.send(protocol.CreateOffer{FromUserID: c.user.ID, ToUserID: remote, SDP: offer})
}

func (c *Client) handleOffer(m protocol.CreateOffer) {
	engine, err := c.engines.Get(m.FromUserID)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("remote", string(m.FromUserID)).Msg("engine create")
		return
	}
	engine.MarkNegotiating()

	if err := engine.SetRemoteDescription(m.SDP); err != nil {
		log.Error().Err(err).Str("module", "client").Str("remote", string(m.FromUserID)).Msg("apply offer")
		return
	}
	c.engines.Settle(m.FromUserID)

	pc, ok := c.peer(m.FromUserID)
	if !ok {
		return
	}
	answer, err := pc.CreateAnswer()
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("remote", string(m.FromUserID)).Msg("create answer")
		return
	}
	c.send(protocol.CreateAnswer{FromUserID: c.user.ID, ToUserID: m.FromUserID, SDP: answer})
}

func (c *Client) handleAnswer(m protocol.CreateAnswer) {
	engine, ok := c.engines.Lookup(m.FromUserID)
	if !ok {
		log.Warn().Str("module", "client").Str("remote", string(m.FromUserID)).Msg("answer for unknown peer")
		return
	}
	if err := engine.SetRemoteDescription(m.SDP); err != nil {
		log.Error().Err(err).Str("module", "client").Str("remote", string(m.FromUserID)).Msg("apply answer")
		return
	}
	c.engines.Settle(m.FromUserID)
}

func (c *Client) handleCandidate(m protocol.IceCandidate) {
	// Get, not Lookup: a candidate can legitimately beat the offer here.
	engine, err := c.engines.Get(m.FromUserID)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("remote", string(m.FromUserID)).Msg("engine create")
		return
	}
	if err := engine.AddCandidate(m.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("remote", string(m.FromUserID)).Msg("add candidate")
	}
}

func (c *Client) send(m protocol.Message) {
	data := protocol.MustEncode(m)
	select {
	case c.outgoing <- data:
	case <-c.done:
	}
}

// Close tears down every negotiation and the signaling socket. Idempotent.
func (c *Client) Close() {
	c.stop.Do(func() {
		close(c.done)
		c.engines.Close()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}
