package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/config"
)

const sendBufferSize = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSController upgrades connections on the shared-registry endpoint and runs
// the read/write pumps. Connections start Unidentified; identity arrives with
// the first joinRoom frame.
type WSController struct {
	Router *Router
	Cfg    *config.Config
}

func NewWSController(router *Router, cfg *config.Config) *WSController {
	return &WSController{Router: router, Cfg: cfg}
}

func (ctl *WSController) HandleWS(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := NewWsConn(ws, sendBufferSize)
	connCtx := &ConnContext{Conn: conn}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, connCtx, conn)
}

func (ctl *WSController) writePump(ctx context.Context, cancel context.CancelFunc, c *WsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *WSController) readPump(ctx context.Context, cancel context.CancelFunc, connCtx *ConnContext, c *WsConn) {
	defer func() {
		ctl.Router.HandleDisconnect(connCtx)
		cancel()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.PongTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(connCtx.SessionID)).Msg("readPump closing")
				return
			}
			ctl.Router.HandleFrame(connCtx, data)
		}
	}
}
