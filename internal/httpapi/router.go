// Package httpapi wires the gin router: both signaling topologies, the room
// administration REST API and the operational endpoints.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/actor"
	"github.com/nilesh507/streamit/internal/config"
	"github.com/nilesh507/streamit/internal/core"
	"github.com/nilesh507/streamit/internal/domain"
	"github.com/nilesh507/streamit/internal/signal"
)

// ClientTokenMiddleware tags every connection with a stable opaque token for
// log correlation. Identity on the wire stays the caller-supplied userId.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Deps struct {
	Registry  *core.Registry
	Signal    *signal.WSController
	Admission *actor.AdmissionController
	Gatherer  prometheus.Gatherer
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("StreamitSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	// Shared-registry topology: identity arrives in the first joinRoom frame.
	r.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "httpapi").Str("token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		d.Signal.HandleWS(ctx, c)
	})

	// Per-room-actor topology: identity arrives as admission parameters.
	r.GET("/rooms/ws", func(c *gin.Context) {
		d.Admission.HandleAdmission(ctx, c)
	})

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": d.Registry.Rooms()})
	})

	api.POST("/rooms", func(c *gin.Context) {
		var req struct {
			ID       string `json:"id"`
			Capacity int    `json:"capacity"`
		}
		if err := c.BindJSON(&req); err != nil || req.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
			return
		}
		room := d.Registry.GetOrCreateRoom(domain.RoomID(req.ID), req.Capacity)
		c.JSON(http.StatusOK, gin.H{
			"id":          room.ID(),
			"memberCount": room.Len(),
			"capacity":    room.Capacity(),
		})
	})

	api.GET("/rooms/:id", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		room, ok := d.Registry.GetRoom(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":          room.ID(),
			"memberCount": room.Len(),
			"capacity":    room.Capacity(),
		})
	})

	api.GET("/rooms/:id/members", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		room, ok := d.Registry.GetRoom(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, room.Users())
	})

	api.DELETE("/rooms/:id", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		if !d.Registry.DeleteRoom(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}
