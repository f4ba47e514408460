package http

import (
	"context"

	"github.com/dkeye/RetroHub/internal/adapters/identity"
	"github.com/dkeye/RetroHub/internal/adapters/signal"
	"github.com/dkeye/RetroHub/internal/app/orch"
	"github.com/dkeye/RetroHub/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(identity.Middleware([]byte(cfg.Secret)))

	events := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})
	api.GET("/ws/events", func(c *gin.Context) {
		events.HandleEvents(ctx, c)
	})

	h := &handlers{orch: o}
	api.POST("/rooms", h.createRoom)
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:id", h.getRoom)
	api.PATCH("/rooms/:id", h.updateRoom)
	api.PUT("/rooms/:id/screenshot", h.updateScreenshot)
	api.POST("/rooms/:id/enter", h.enterRoom)
	api.POST("/rooms/leave", h.leaveRoom)

	api.POST("/invites", h.createInvite)
	api.GET("/invites", h.listInvites)
	api.POST("/invites/:id/accept", h.acceptInvite)
	api.POST("/invites/:id/decline", h.declineInvite)
	api.DELETE("/invites", h.withdrawInvites)

	api.GET("/users/:id/online", h.isOnline)
	api.GET("/presence/count", h.onlineCount)
	api.POST("/login/ping", h.loginPing)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
