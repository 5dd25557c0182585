// Package api is the relay's HTTP surface.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Avanquish/DoughNation-sub002/internal/logger"
	"github.com/Avanquish/DoughNation-sub002/internal/websocket"
)

var log = logger.New("api")

type RouterOptions struct {
	Secret    []byte
	TokenTTL  time.Duration
	DevTokens bool
	// Middleware runs before every route, e.g. CORS.
	Middleware []gin.HandlerFunc
}

// SetupRouter wires every relay route onto a new engine.
func SetupRouter(manager *websocket.Manager, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(opts.Middleware...)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.DevTokens {
		tokens := &TokenHandler{Secret: opts.Secret, TTL: opts.TokenTTL, Manager: manager}
		router.POST("/api/dev/token", tokens.Issue)
	}

	donations := NewDonationHandler(manager)

	authorized := router.Group("/api")
	authorized.Use(AuthMiddleware(opts.Secret))
	{
		authorized.GET("/me", Me)
		authorized.POST("/donations/:id/accept", donations.Accept)
		authorized.POST("/donations/:id/cancel", donations.Cancel)
		authorized.GET("/ws", manager.HandleWebSocket)
	}

	return router
}
