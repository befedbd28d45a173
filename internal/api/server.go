package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/serroba/livedoc/internal/keeper"
	"github.com/serroba/livedoc/internal/relay"
)

// Server handles HTTP requests for the relay.
type Server struct {
	relay      *relay.Relay
	keeper     *keeper.Keeper
	sendBuffer int
	upgrader   websocket.Upgrader
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Relay *relay.Relay
	// Keeper is optional; without it /documents/:id always answers 404.
	Keeper *keeper.Keeper
	// SendBuffer is the per-client outbound queue size.
	SendBuffer int
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		relay:      cfg.Relay,
		keeper:     cfg.Keeper,
		sendBuffer: cfg.SendBuffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true // Allow all origins for demo
			},
		},
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(string) bool { return true },
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", headerRequestID},
		ExposeHeaders:   []string{headerRequestID},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(requestIDMiddleware(), tracingMiddleware())

	r.GET("/healthz", s.handleHealth)
	r.GET("/stats", s.handleStats)
	r.GET("/documents/:id", s.handleGetDocument)
	r.GET("/ws", s.handleWebSocket)

	return r
}
