package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"arbitrage-engine/internal/arbitrage"
	"arbitrage-engine/internal/events"
	"arbitrage-engine/internal/ledger"
	"arbitrage-engine/internal/venue"
	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/ratelimiter"
	"arbitrage-engine/pkg/venuedriver/mockdriver"
)

func decodeJSON(resp *http.Response, out any) error {
	return json.NewDecoder(resp.Body).Decode(out)
}

func newTestServer(t *testing.T) (*httptest.Server, *ledger.Ledger, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	l := ledger.New(filepath.Join(dir, "trade-state.json"))

	bus := events.NewBus()
	rl := ratelimiter.New(ratelimiter.DefaultConfig())
	gw := venue.NewGateway(bus, rl)
	gw.AddVenue(venue.HandleConfig{Venue: "alpha", Driver: mockdriver.New("alpha")})
	gw.AddVenue(venue.HandleConfig{Venue: "beta", Driver: mockdriver.New("beta")})

	eng := arbitrage.NewEngine(arbitrage.DefaultConfig(), gw, l, bus)

	server := NewServer(l, gw, eng, nil, "test-secret", "test")
	httpServer := httptest.NewServer(server.Router)

	cleanup := func() { httpServer.Close() }
	return httpServer, l, cleanup
}

func TestHealthz(t *testing.T) {
	ts, _, cleanup := newTestServer(t)
	defer cleanup()

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStatusReportsVenuesAndActiveTrades(t *testing.T) {
	ts, l, cleanup := newTestServer(t)
	defer cleanup()

	if _, err := l.RecordStart(model.Opportunity{
		Instrument: "BTC/USD",
		BuyVenue:   "alpha",
		SellVenue:  "beta",
		Timestamp:  time.Now(),
	}); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	resp, err := ts.Client().Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /api/v1/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Venues       []venueStatus `json:"venues"`
		ActiveTrades int           `json:"activeTrades"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Venues) != 2 {
		t.Fatalf("expected 2 venues reported, got %d", len(body.Venues))
	}
	if body.ActiveTrades != 1 {
		t.Fatalf("expected 1 active trade, got %d", body.ActiveTrades)
	}
}

func TestOrphansRequiresAuth(t *testing.T) {
	ts, _, cleanup := newTestServer(t)
	defer cleanup()

	resp, err := ts.Client().Get(ts.URL + "/api/v1/orphans")
	if err != nil {
		t.Fatalf("GET /api/v1/orphans: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}
}

func TestAcknowledgeOrphanWithValidToken(t *testing.T) {
	ts, _, cleanup := newTestServer(t)
	defer cleanup()

	token, err := GenerateToken("operator-1", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/orphans/nonexistent-tradekey/ack", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("POST ack: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown trade key, got %d", resp.StatusCode)
	}
}

func TestAcknowledgeOrphanRejectsBadToken(t *testing.T) {
	ts, _, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/orphans/some-key/ack", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer garbage")

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("POST ack: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a malformed token, got %d", resp.StatusCode)
	}
}
