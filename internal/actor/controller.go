package actor

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/config"
	"github.com/nilesh507/streamit/internal/domain"
	"github.com/nilesh507/streamit/internal/metrics"
	"github.com/nilesh507/streamit/internal/signal"
)

const sendBufferSize = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AdmissionController handles the per-room topology's upgrade-style
// handshake: identity travels as connection parameters, and capacity is
// decided before the upgrade so rejections are plain client errors.
type AdmissionController struct {
	Directory *Directory
	Cfg       *config.Config
	Metrics   *metrics.Metrics
}

func NewAdmissionController(dir *Directory, cfg *config.Config, m *metrics.Metrics) *AdmissionController {
	return &AdmissionController{Directory: dir, Cfg: cfg, Metrics: m}
}

func (ctl *AdmissionController) HandleAdmission(ctx context.Context, c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.String(http.StatusBadRequest, "Expected websocket")
		return
	}

	userID := domain.UserID(c.Query("userId"))
	name := c.Query("name")
	roomID := domain.RoomID(c.Query("roomId"))
	if userID == "" || roomID == "" {
		ctl.Metrics.JoinRejections.WithLabelValues(metrics.RejectInvalid).Inc()
		c.String(http.StatusBadRequest, "Missing userId or roomId")
		return
	}

	user, err := domain.NewUser(userID, name)
	if err != nil {
		ctl.Metrics.JoinRejections.WithLabelValues(metrics.RejectInvalid).Inc()
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	room := ctl.Directory.Get(roomID)
	switch err := room.Reserve(*user); err {
	case nil:
	case ErrRoomFull:
		ctl.Metrics.JoinRejections.WithLabelValues(metrics.RejectFull).Inc()
		c.String(http.StatusBadRequest, "Room is full")
		return
	case ErrDuplicate:
		ctl.Metrics.JoinRejections.WithLabelValues(metrics.RejectDuplicate).Inc()
		c.String(http.StatusBadRequest, "User already in room")
		return
	default:
		c.String(http.StatusServiceUnavailable, "Room unavailable")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "actor").Str("room", string(roomID)).Msg("ws upgrade")
		room.Release(userID)
		return
	}
	log.Info().Str("module", "actor").Str("room", string(roomID)).Str("user", string(userID)).Msg("admitted")

	conn := signal.NewWsConn(ws, sendBufferSize)
	room.Bind(userID, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, ws, conn)
	go ctl.readPump(ctx, cancel, room, userID, ws, conn)
}

func (ctl *AdmissionController) writePump(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, c *signal.WsConn) {
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
		case data, ok := <-c.Outbound():
			if !ok {
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout)); err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *AdmissionController) readPump(ctx context.Context, cancel context.CancelFunc, room *RoomActor, id domain.UserID, ws *websocket.Conn, c *signal.WsConn) {
	defer func() {
		room.Disconnect(id)
		cancel()
		c.Close()
	}()

	ws.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(ctl.Cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(ctl.Cfg.PongTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := ws.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "actor").Str("user", string(id)).Msg("readPump closing")
				return
			}
			room.HandleFrame(id, data)
		}
	}
}
