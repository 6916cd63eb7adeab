package signal

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nilesh507/streamit/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// WsConn wraps a websocket with a buffered outbound queue. Sends never
// block: a full queue is a backpressure error the caller treats as a failed
// delivery.
type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWsConn(conn *websocket.Conn, sendBuffer int) *WsConn {
	return &WsConn{
		conn: conn,
		send: make(chan core.Frame, sendBuffer),
	}
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Outbound exposes the queued frames for the owning write pump.
func (c *WsConn) Outbound() <-chan core.Frame { return c.send }

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}
