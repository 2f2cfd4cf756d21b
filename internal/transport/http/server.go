package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsegate/internal/auth"
	"github.com/vovakirdan/pulsegate/internal/config"
	"github.com/vovakirdan/pulsegate/internal/core"
)

// NewServer builds the HTTP server hosting the websocket upgrade routes.
func NewServer(hub *core.Hub, verifier *auth.Verifier, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	ws := NewWSHandler(hub, verifier, logger)
	router.GET("/ws/chat", ws.Channel(core.ChannelChat))
	router.GET("/ws/friends", ws.Channel(core.ChannelFriends))
	router.GET("/ws/game", ws.Channel(core.ChannelGame))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
