package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"arbitrage-engine/pkg/ratelimiter"
)

type venueStatus struct {
	Venue       string            `json:"venue"`
	State       string            `json:"state"`
	LastUpdate  string            `json:"lastUpdate"`
	RateLimiter ratelimiter.Stats `json:"rateLimiter"`
}

// status reports per-venue connection state, rate-limiter counters,
// active trade count, and variance telemetry — the operator's
// at-a-glance health view.
func (s *Server) status(c *gin.Context) {
	venues := make([]venueStatus, 0, len(s.Gateway.Venues()))
	for _, v := range s.Gateway.Venues() {
		h, ok := s.Gateway.Handle(v)
		if !ok {
			continue
		}
		venues = append(venues, venueStatus{
			Venue:       string(v),
			State:       string(h.State()),
			LastUpdate:  h.LastUpdate().UTC().Format("2006-01-02T15:04:05Z07:00"),
			RateLimiter: s.Gateway.RateLimiterStats(v),
		})
	}

	resp := gin.H{
		"venues":       venues,
		"activeTrades": s.Ledger.ActiveCount(),
	}
	if s.Engine != nil {
		resp["variance"] = s.Engine.Telemetry()
	}
	if s.History != nil {
		resp["history"] = s.History.Metrics()
	}
	c.JSON(http.StatusOK, resp)
}

// listOrphans returns the ledger's unacknowledged orphan set — entries
// whose startedAt predates the orphan threshold, reported but never
// auto-removed.
func (s *Server) listOrphans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orphans": s.Ledger.Orphans()})
}

// acknowledgeOrphan removes one orphan after human inspection.
func (s *Server) acknowledgeOrphan(c *gin.Context) {
	tradeKey := c.Param("tradeKey")
	entry, ok := s.Ledger.AcknowledgeOrphan(tradeKey)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "ORPHAN_NOT_FOUND",
			"error": "no unacknowledged orphan with that trade key",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": entry})
}
