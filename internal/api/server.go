// Package api is the operator-facing HTTP surface: health, status, and
// orphan acknowledgment. Grounded on the teacher's internal/api.Server
// (gin.Engine wrapped with a fixed middleware stack, route groups split
// into public and JWT-protected), trimmed from a multi-user trading UI
// backend down to the handful of read-only/ack endpoints an operator of
// this engine needs.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"arbitrage-engine/internal/arbitrage"
	"arbitrage-engine/internal/history"
	"arbitrage-engine/internal/ledger"
	"arbitrage-engine/internal/venue"
)

// Server wires the operator HTTP endpoints around the engine's core
// components. It holds no business logic of its own — every handler
// reads from or calls into the Ledger, Gateway, Engine, and History it wraps.
type Server struct {
	Router *gin.Engine

	Ledger  *ledger.Ledger
	Gateway *venue.Gateway
	Engine  *arbitrage.Engine
	History *history.Store // optional; nil if the audit trail is disabled

	JWTSecret string
	Version   string
}

// NewServer builds the gin engine, installs the middleware stack (order
// matters, matching the teacher: recovery first, CORS last before
// routes), and registers routes. hist may be nil.
func NewServer(l *ledger.Ledger, gw *venue.Gateway, eng *arbitrage.Engine, hist *history.Store, jwtSecret, version string) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(10 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Ledger:    l,
		Gateway:   gw,
		Engine:    eng,
		History:   hist,
		JWTSecret: jwtSecret,
		Version:   version,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/healthz", s.healthz)

	api := s.Router.Group("/api/v1")
	{
		api.GET("/status", s.status)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/orphans", s.listOrphans)
			protected.POST("/orphans/:tradeKey/ack", s.acknowledgeOrphan)
		}
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.Version})
}

// Start blocks serving on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
