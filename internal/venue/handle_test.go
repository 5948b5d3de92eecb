package venue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"arbitrage-engine/internal/events"
	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/venuedriver/mockdriver"
)

func TestSubscribePublishesSnapshotsAndUpdatesBook(t *testing.T) {
	bus := events.NewBus()
	updates, unsubscribe := bus.Subscribe(events.EventOrderBookUpdate, 4)
	defer unsubscribe()

	drv := mockdriver.New("alpha")
	h := NewHandle(HandleConfig{Venue: "alpha", Driver: drv, Depths: drv.Depths}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.Subscribe(ctx, "BTC/USD", 10); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// give the subscription goroutine a moment to register the stream.
	time.Sleep(20 * time.Millisecond)

	snap := model.OrderBookSnapshot{
		Venue:          "alpha",
		Instrument:     "BTC/USD",
		Asks:           []model.PriceLevel{{Price: 101, Amount: 1}},
		Bids:           []model.PriceLevel{{Price: 100, Amount: 1}},
		VenueTimestamp: time.Now(),
	}
	drv.PushSnapshot(snap)

	select {
	case payload := <-updates:
		got := payload.(model.OrderBookSnapshot)
		if got.Instrument != "BTC/USD" {
			t.Fatalf("expected BTC/USD update, got %s", got.Instrument)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for order book update event")
	}

	book, ok := h.Book("BTC/USD")
	if !ok {
		t.Fatal("expected book to be stored")
	}
	ask, ok := book.BestAsk()
	if !ok || ask.Price != 101 {
		t.Fatalf("expected best ask 101, got %v (ok=%v)", ask.Price, ok)
	}
}

func TestNormalizeDepthRoundsUpAndCaps(t *testing.T) {
	bus := events.NewBus()
	drv := mockdriver.New("alpha")
	h := NewHandle(HandleConfig{Venue: "alpha", Driver: drv, Depths: drv.Depths}, bus)

	if got := h.NormalizeDepth(7); got != 10 {
		t.Fatalf("expected depth rounded up to 10, got %d", got)
	}
	if got := h.NormalizeDepth(1000); got != 50 {
		t.Fatalf("expected depth capped at 50, got %d", got)
	}
}

// TestMidStreamErrorAppliesBackoffBeforeRedial drives an error arriving
// on an already-open stream (mockdriver.PushStreamError), rather than a
// failure of the initial dial, and asserts runSubscription waits the
// configured delay before redialing instead of busy-looping against
// the driver.
func TestMidStreamErrorAppliesBackoffBeforeRedial(t *testing.T) {
	bus := events.NewBus()
	connected, unsubConnected := bus.Subscribe(events.EventVenueConnected, 4)
	defer unsubConnected()

	drv := mockdriver.New("alpha")
	h := NewHandle(HandleConfig{
		Venue:  "alpha",
		Driver: drv,
		Depths: drv.Depths,
		Reconnect: ReconnectConfig{
			MaxAttempts:  5,
			InitialDelay: 150 * time.Millisecond,
			MaxDelay:     time.Second,
		},
	}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.Subscribe(ctx, "BTC/USD", 10); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial connect")
	}

	errAt := time.Now()
	drv.PushStreamError("BTC/USD", fmt.Errorf("connection reset by peer"))

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect after mid-stream error")
	}
	if elapsed := time.Since(errAt); elapsed < 100*time.Millisecond {
		t.Fatalf("expected redial to wait for the configured backoff delay, redialed after only %v", elapsed)
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	cfg := ReconnectConfig{InitialDelay: time.Second, MaxDelay: 10 * time.Second}
	cases := map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 10 * time.Second,
		6: 10 * time.Second,
	}
	for attempt, want := range cases {
		if got := backoffDelay(cfg, attempt); got != want {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}
}
