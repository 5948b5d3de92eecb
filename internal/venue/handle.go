// Package venue implements the Venue Gateway (C3): one VenueHandle per
// configured trading venue, maintaining streaming market data and
// serializing order submission with idempotency.
//
// The state machine and reconnect backoff are grounded on the teacher's
// pkg/market/binance/websocket.go StreamClient (exponential backoff,
// auto-reconnect loop) and internal/gateway/manager.go's CachedGateway
// (failure counting, health bookkeeping), generalized from "one
// Binance-flavored stream" and "one pooled REST client" into a single
// per-venue state machine that owns both a streaming subscription and
// order submission.
package venue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"arbitrage-engine/internal/events"
	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/venuedriver"
)

// State is a VenueHandle's connection state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// ReconnectConfig controls the exponential backoff applied once a
// handle's error count crosses MaxAttempts, mirroring
// pkg/market/binance/websocket.go's ReconnectConfig.
type ReconnectConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultReconnectConfig matches spec.md §4.3's defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxAttempts:  5,
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
	}
}

// HandleConfig parameterizes one VenueHandle.
type HandleConfig struct {
	Venue              model.VenueID
	Driver             venuedriver.Driver
	Depths             venuedriver.AcceptedDepths
	StalenessThreshold time.Duration
	Reconnect          ReconnectConfig
}

// VenueHandle owns one venue's streaming subscriptions, last-known
// order books, and connection state machine.
type VenueHandle struct {
	cfg HandleConfig
	bus *events.Bus

	mu         sync.RWMutex
	state      State
	errorCount int
	lastUpdate time.Time
	books      map[model.Instrument]model.OrderBookSnapshot

	cancelSubs []func()
}

// NewHandle constructs a handle in the connecting state.
func NewHandle(cfg HandleConfig, bus *events.Bus) *VenueHandle {
	if cfg.Reconnect == (ReconnectConfig{}) {
		cfg.Reconnect = DefaultReconnectConfig()
	}
	if cfg.StalenessThreshold == 0 {
		cfg.StalenessThreshold = 500 * time.Millisecond
	}
	return &VenueHandle{
		cfg:   cfg,
		bus:   bus,
		state: StateConnecting,
		books: make(map[model.Instrument]model.OrderBookSnapshot),
	}
}

// State returns the handle's current connection state.
func (h *VenueHandle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// LastUpdate returns the most recent venue timestamp observed across
// all subscribed instruments.
func (h *VenueHandle) LastUpdate() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastUpdate
}

// Book returns the last snapshot received for instrument, if any.
func (h *VenueHandle) Book(instrument model.Instrument) (model.OrderBookSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.books[instrument]
	return b, ok
}

// NormalizeDepth rounds a requested depth up to the venue's accepted
// values, capping at its maximum and logging when capped.
func (h *VenueHandle) NormalizeDepth(requested int) int {
	depth, capped := h.cfg.Depths.Normalize(requested)
	if capped {
		log.Printf("venue %s: requested depth %d exceeds max, capped to %d", h.cfg.Venue, requested, depth)
	}
	return depth
}

// Stale reports whether snapshot is older than the handle's staleness threshold.
func (h *VenueHandle) Stale(snap model.OrderBookSnapshot, now time.Time) bool {
	return snap.Age(now) > h.cfg.StalenessThreshold
}

// Subscribe starts a perpetual consume loop against the driver's
// streaming source for instrument at depth. It returns immediately;
// the loop runs until ctx is canceled.
func (h *VenueHandle) Subscribe(ctx context.Context, instrument model.Instrument, depth int) error {
	if !h.cfg.Driver.Capabilities().Has(venuedriver.CapStreamOrderBook) {
		return fmt.Errorf("venue %s: driver does not support order book streaming", h.cfg.Venue)
	}
	depth = h.NormalizeDepth(depth)

	go h.runSubscription(ctx, instrument, depth)
	return nil
}

func (h *VenueHandle) runSubscription(ctx context.Context, instrument model.Instrument, depth int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, stop, err := h.cfg.Driver.StreamOrderBook(ctx, instrument, depth)
		if err != nil {
			h.onStreamEvent(err)
			h.waitBeforeRetry(ctx)
			continue
		}

		h.mu.Lock()
		h.state = StateConnected
		h.errorCount = 0
		h.cancelSubs = append(h.cancelSubs, stop)
		h.mu.Unlock()
		h.bus.Publish(events.EventVenueConnected, h.cfg.Venue)

		streamErr := h.consume(ctx, updates)

		select {
		case <-ctx.Done():
			return
		default:
		}
		// The stream ended. After an error, wait the same fixed-delay/backoff
		// a dial failure gets before redialing; after a clean close, redial at once.
		if streamErr != nil {
			h.onStreamEvent(streamErr)
			h.waitBeforeRetry(ctx)
		}
	}
}

// consume drains updates until the channel closes, ctx is canceled, or
// one update carries an error — in which case it returns that error so
// runSubscription can apply the same backoff a dial failure gets
// before redialing.
func (h *VenueHandle) consume(ctx context.Context, updates <-chan venuedriver.OrderBookUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Err != nil {
				return upd.Err
			}
			h.onSnapshot(upd.Snapshot)
		}
	}
}

func (h *VenueHandle) onSnapshot(snap model.OrderBookSnapshot) {
	h.mu.Lock()
	if snap.VenueTimestamp.After(h.lastUpdate) {
		h.lastUpdate = snap.VenueTimestamp
	}
	h.books[snap.Instrument] = snap
	h.mu.Unlock()

	h.bus.Publish(events.EventOrderBookUpdate, snap)
}

func (h *VenueHandle) onStreamEvent(err error) {
	h.mu.Lock()
	h.errorCount++
	count := h.errorCount
	h.mu.Unlock()

	h.bus.Publish(events.EventVenueError, fmt.Errorf("venue %s: %w", h.cfg.Venue, err))

	if count >= h.cfg.Reconnect.MaxAttempts {
		h.mu.Lock()
		h.state = StateReconnecting
		h.mu.Unlock()
	}
}

// waitBeforeRetry sleeps for the fixed delay (or, once errorCount has
// crossed MaxAttempts, the exponential backoff) before runSubscription
// redials — applied uniformly whether the stream failed to open at all
// or died partway through, per spec.md's "restart the stream after a
// fixed delay" requirement.
func (h *VenueHandle) waitBeforeRetry(ctx context.Context) {
	h.mu.RLock()
	attempt := h.errorCount
	state := h.state
	h.mu.RUnlock()

	var delay time.Duration
	if state == StateReconnecting {
		delay = backoffDelay(h.cfg.Reconnect, attempt-h.cfg.Reconnect.MaxAttempts+1)
	} else {
		delay = h.cfg.Reconnect.InitialDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// backoffDelay computes initialDelay * 2^(attempt-1), capped at maxDelay.
func backoffDelay(cfg ReconnectConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}

// Close stops every active subscription and closes the underlying driver.
func (h *VenueHandle) Close() error {
	h.mu.Lock()
	subs := h.cancelSubs
	h.cancelSubs = nil
	h.mu.Unlock()

	for _, stop := range subs {
		stop()
	}
	return h.cfg.Driver.Close()
}
