package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"arbitrage-engine/internal/events"
	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/ratelimiter"
	"arbitrage-engine/pkg/venuedriver/mockdriver"
)

func newTestGateway() (*Gateway, *mockdriver.Driver) {
	bus := events.NewBus()
	limiter := ratelimiter.New(ratelimiter.DefaultConfig())
	gw := NewGateway(bus, limiter)
	drv := mockdriver.New("alpha")
	gw.AddVenue(HandleConfig{Venue: "alpha", Driver: drv, Depths: drv.Depths})
	return gw, drv
}

func TestExecuteTradeSubmitsAndRecordsOrder(t *testing.T) {
	gw, _ := newTestGateway()
	req := model.OrderRequest{
		Venue:         "alpha",
		Instrument:    "BTC/USD",
		Side:          model.SideBuy,
		Amount:        1.0,
		Type:          model.OrderTypeMarket,
		Price:         100,
		ClientOrderID: "client-1",
	}
	result, err := gw.ExecuteTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("execute trade: %v", err)
	}
	if result.Outcome != model.OutcomeSuccess {
		t.Fatalf("expected success outcome, got %v", result.Outcome)
	}
	if result.VenueOrderID == "" {
		t.Fatal("expected a venue order id")
	}
}

func TestExecuteTradeIdempotencyShortCircuitsRepeatedClientOrderID(t *testing.T) {
	gw, drv := newTestGateway()
	req := model.OrderRequest{
		Venue:         "alpha",
		Instrument:    "BTC/USD",
		Side:          model.SideBuy,
		Amount:        1.0,
		Price:         100,
		ClientOrderID: "client-2",
	}
	first, err := gw.ExecuteTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}

	calls := 0
	drv.CreateOrderFn = func(ctx context.Context, r model.OrderRequest) (model.OrderResult, error) {
		calls++
		return model.OrderResult{}, errors.New("should not be called again")
	}

	second, err := gw.ExecuteTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected CreateOrder not to be called on idempotent retry, got %d calls", calls)
	}
	if second.VenueOrderID != first.VenueOrderID {
		t.Fatalf("expected same venue order id, got %s vs %s", second.VenueOrderID, first.VenueOrderID)
	}
}

func TestExecuteTradeThrottleErrorBacksOffLimiter(t *testing.T) {
	gw, drv := newTestGateway()
	drv.CreateOrderFn = func(ctx context.Context, r model.OrderRequest) (model.OrderResult, error) {
		return model.OrderResult{}, errors.New("429 too many requests")
	}

	req := model.OrderRequest{Venue: "alpha", Instrument: "BTC/USD", Side: model.SideBuy, Amount: 1, Price: 100, ClientOrderID: "client-3"}
	_, err := gw.ExecuteTrade(context.Background(), req)
	if err == nil {
		t.Fatal("expected error from throttled create order")
	}

	stats := gw.limiter.Stats("alpha")
	if !stats.Throttled {
		t.Fatal("expected limiter to record throttled state")
	}
}

func TestExecuteTradeTimeoutRecoversFromFetchRecentOrders(t *testing.T) {
	gw, drv := newTestGateway()
	clientID := "client-4"

	drv.CreateOrderFn = func(ctx context.Context, r model.OrderRequest) (model.OrderResult, error) {
		// Simulate a submission that actually succeeded venue-side despite
		// our client observing a timeout: plant the order directly, then
		// report the timeout the caller would have seen.
		drv.CreateOrderFn = nil
		if _, err := drv.CreateOrder(ctx, r); err != nil {
			t.Fatalf("planting order: %v", err)
		}
		return model.OrderResult{}, errors.New("read tcp: i/o timeout")
	}

	start := time.Now()
	result, err := gw.ExecuteTrade(context.Background(), model.OrderRequest{
		Venue: "alpha", Instrument: "BTC/USD", Side: model.SideBuy, Amount: 1, Price: 100, ClientOrderID: clientID,
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("expected recovery to find the planted order, got err: %v", err)
	}
	if elapsed < 2*time.Second {
		t.Fatalf("expected recovery to wait at least 2s, took %v", elapsed)
	}
	if result.Outcome != model.OutcomeSuccess {
		t.Fatalf("expected recovered order to report success, got %v", result.Outcome)
	}
}

func TestAvailableBalanceExcludesOwnReservation(t *testing.T) {
	gw, drv := newTestGateway()
	drv.Balances["USD"] = 1000

	gw.Reserve("trade-1", "alpha", "USD", 400)
	avail, err := gw.AvailableBalance(context.Background(), "alpha", "USD", "trade-1")
	if err != nil {
		t.Fatalf("available balance: %v", err)
	}
	if avail != 1000 {
		t.Fatalf("expected own reservation excluded, got %v", avail)
	}

	avail, err = gw.AvailableBalance(context.Background(), "alpha", "USD", "")
	if err != nil {
		t.Fatalf("available balance: %v", err)
	}
	if avail != 600 {
		t.Fatalf("expected 600 available after a foreign reservation, got %v", avail)
	}
}
