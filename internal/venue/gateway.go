package venue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"arbitrage-engine/internal/events"
	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/ratelimiter"
	"arbitrage-engine/pkg/venuedriver"
)

// Gateway is the Venue Gateway (C3): the set of configured VenueHandles
// plus the shared fee cache, reservation book, idempotency map and rate
// limiter every handle's order path goes through. Grounded on the
// teacher's internal/gateway.Manager (pool of per-connection gateways
// with shared lifecycle), collapsed here to a fixed, config-driven set
// of venues rather than a dynamically grown LRU cache — this engine
// trades a handful of exchanges, not per-user connections.
type Gateway struct {
	bus     *events.Bus
	limiter *ratelimiter.Limiter

	mu      sync.RWMutex
	handles map[model.VenueID]*VenueHandle

	fees         *FeeCache
	reservations *ReservationBook
	recent       *RecentOrders
}

// NewGateway wires a Gateway around bus and limiter.
func NewGateway(bus *events.Bus, limiter *ratelimiter.Limiter) *Gateway {
	return &Gateway{
		bus:          bus,
		limiter:      limiter,
		handles:      make(map[model.VenueID]*VenueHandle),
		fees:         NewFeeCache(24 * time.Hour),
		reservations: NewReservationBook(),
		recent:       NewRecentOrders(),
	}
}

// AddVenue registers a handle for venue. Any per-venue failure here
// (spec.md §4.5: "each may partially fail — record error, continue")
// is the caller's responsibility; AddVenue itself cannot fail.
func (g *Gateway) AddVenue(cfg HandleConfig) *VenueHandle {
	h := NewHandle(cfg, g.bus)
	g.mu.Lock()
	g.handles[cfg.Venue] = h
	g.mu.Unlock()
	g.fees.SetDefault(cfg.Venue, model.TradingFees{MakerRate: 0.002, TakerRate: 0.002, PercentageFlag: true})
	return h
}

// SetFeeDefault overrides the conservative fallback fee schedule used
// when a venue's fee cache is empty or stale, for a venue already
// registered via AddVenue.
func (g *Gateway) SetFeeDefault(venue model.VenueID, fees model.TradingFees) {
	g.fees.SetDefault(venue, fees)
}

// Handle returns the VenueHandle for venue, if registered.
func (g *Gateway) Handle(venue model.VenueID) (*VenueHandle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.handles[venue]
	return h, ok
}

// Venues returns the configured venue ids.
func (g *Gateway) Venues() []model.VenueID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.VenueID, 0, len(g.handles))
	for v := range g.handles {
		out = append(out, v)
	}
	return out
}

// Subscribe starts streaming instrument at depth on venue.
func (g *Gateway) Subscribe(ctx context.Context, venue model.VenueID, instrument model.Instrument, depth int) error {
	h, ok := g.Handle(venue)
	if !ok {
		return fmt.Errorf("subscribe: unknown venue %q", venue)
	}
	return h.Subscribe(ctx, instrument, depth)
}

// LatestBooks returns the last known snapshot for instrument from every
// venue that currently has data for it.
func (g *Gateway) LatestBooks(instrument model.Instrument) map[model.VenueID]model.OrderBookSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[model.VenueID]model.OrderBookSnapshot)
	for v, h := range g.handles {
		if b, ok := h.Book(instrument); ok {
			out[v] = b
		}
	}
	return out
}

// RefreshFees fetches the wildcard fee schedule for every registered venue.
func (g *Gateway) RefreshFees(ctx context.Context) {
	for venue, h := range g.snapshotHandles() {
		if !h.cfg.Driver.Capabilities().Has(venuedriver.CapFetchTradingFees) {
			continue
		}
		if err := g.fees.RefreshAll(ctx, venue, h.cfg.Driver); err != nil {
			log.Printf("gateway: fee refresh failed for %s: %v", venue, err)
		}
	}
}

func (g *Gateway) snapshotHandles() map[model.VenueID]*VenueHandle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[model.VenueID]*VenueHandle, len(g.handles))
	for k, v := range g.handles {
		out[k] = v
	}
	return out
}

// FetchOrderBook pulls a fresh snapshot directly from the venue,
// bypassing the cached streaming book — used where a caller needs a
// stale-data guard rather than the last pushed update.
func (g *Gateway) FetchOrderBook(ctx context.Context, venue model.VenueID, instrument model.Instrument, depth int) (model.OrderBookSnapshot, error) {
	h, ok := g.Handle(venue)
	if !ok {
		return model.OrderBookSnapshot{}, fmt.Errorf("fetch order book: unknown venue %q", venue)
	}
	return h.cfg.Driver.FetchOrderBook(ctx, instrument, h.NormalizeDepth(depth))
}

// Fees returns the best known fee schedule for (venue, instrument).
func (g *Gateway) Fees(venue model.VenueID, instrument model.Instrument) model.TradingFees {
	return g.fees.Lookup(venue, instrument)
}

// RateLimiterStats returns the token-bucket/backoff counters for venue,
// for the operator status surface (spec_full.md's /status contract).
func (g *Gateway) RateLimiterStats(venue model.VenueID) ratelimiter.Stats {
	return g.limiter.Stats(string(venue))
}

// Balance fetches free balance for currency on venue, bypassing reservations.
func (g *Gateway) Balance(ctx context.Context, venue model.VenueID, currency string) (float64, error) {
	h, ok := g.Handle(venue)
	if !ok {
		return 0, fmt.Errorf("balance: unknown venue %q", venue)
	}
	if !h.cfg.Driver.Capabilities().Has(venuedriver.CapFetchBalance) {
		return 0, fmt.Errorf("%w: venue %s driver cannot fetch balance", model.ErrPermanentVenue, venue)
	}
	return h.cfg.Driver.FetchBalance(ctx, currency)
}

// AvailableBalance returns free balance minus live reservations for
// (venue, currency), excluding excludeTradeKey's own holds.
func (g *Gateway) AvailableBalance(ctx context.Context, venue model.VenueID, currency string, excludeTradeKey string) (float64, error) {
	free, err := g.Balance(ctx, venue, currency)
	if err != nil {
		return 0, err
	}
	return g.reservations.Available(venue, currency, free, excludeTradeKey), nil
}

// Reserve earmarks amount of (venue, currency) for tradeKey.
func (g *Gateway) Reserve(tradeKey string, venue model.VenueID, currency string, amount float64) {
	g.reservations.Reserve(tradeKey, venue, currency, amount)
}

// Release drops every reservation held by tradeKey.
func (g *Gateway) Release(tradeKey string) {
	g.reservations.Release(tradeKey)
}

// ExecuteTrade is the critical order-submission path of spec.md §4.3.
// It attempts the underlying call exactly once; idempotency under
// external retry comes from the recentOrders short-circuit, not from
// any internal retry loop here.
func (g *Gateway) ExecuteTrade(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	h, ok := g.Handle(req.Venue)
	if !ok {
		return model.OrderResult{}, fmt.Errorf("execute trade: unknown venue %q", req.Venue)
	}
	driver := h.cfg.Driver

	// Step 2: idempotency short-circuit.
	if entry, ok := g.recent.Lookup(req.ClientOrderID); ok {
		result, err := driver.FetchOrder(ctx, entry.VenueOrderID, req.Instrument)
		if err == nil {
			return result, nil
		}
		log.Printf("execute trade: idempotency hit for %s but fetchOrder failed, falling through: %v", req.ClientOrderID, err)
	}

	// Step 3: rate-limit token.
	if err := g.limiter.Acquire(ctx, string(req.Venue)); err != nil {
		return model.OrderResult{}, fmt.Errorf("execute trade: acquire rate limit token: %w", err)
	}

	// Step 4: submit exactly once.
	result, err := driver.CreateOrder(ctx, req)
	if err == nil {
		g.recent.Record(req.ClientOrderID, result.VenueOrderID, req.Venue)
		g.limiter.OnSuccess(string(req.Venue))
		return result, nil
	}

	// Step 5: timeout recovery.
	if ratelimiter.IsTimeoutError(err) {
		return g.recoverFromTimeout(ctx, req)
	}

	// Step 6: throttle handling.
	if ratelimiter.IsThrottleError(err) {
		g.limiter.OnThrottled(string(req.Venue))
		return model.OrderResult{}, fmt.Errorf("%w: create order on %s: %v", model.ErrTransientVenue, req.Venue, err)
	}

	return model.OrderResult{}, fmt.Errorf("%w: create order on %s: %v", model.ErrPermanentVenue, req.Venue, err)
}

// recoverFromTimeout implements spec.md §4.3 step 5: after a timeout
// error, wait briefly, then scan the venue's recent orders for one that
// plausibly matches the request we just submitted.
func (g *Gateway) recoverFromTimeout(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	h, _ := g.Handle(req.Venue)
	driver := h.cfg.Driver

	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return model.OrderResult{}, ctx.Err()
	case <-timer.C:
	}

	recent, err := driver.FetchRecentOrders(ctx, req.Instrument, 10)
	if err != nil {
		return model.OrderResult{}, fmt.Errorf("%w: timeout recovery fetch recent orders: %v", model.ErrTransientVenue, err)
	}

	cutoff := time.Now().Add(-30 * time.Second)
	for _, candidate := range recent {
		if candidate.Side != req.Side {
			continue
		}
		if candidate.VenueTimestamp.Before(cutoff) {
			continue
		}
		if !withinTolerance(candidate.RequestedAmount, req.Amount, 0.01) {
			continue
		}
		g.recent.Record(req.ClientOrderID, candidate.VenueOrderID, req.Venue)
		return candidate, nil
	}

	return model.OrderResult{}, fmt.Errorf("%w: timeout on %s, no matching order found within window", model.ErrTransientVenue, req.Venue)
}

func withinTolerance(observed, target, tolerance float64) bool {
	if target == 0 {
		return observed == 0
	}
	diff := observed - target
	if diff < 0 {
		diff = -diff
	}
	return diff/target <= tolerance
}

// CancelOrder passes a cancel request through to venue's driver, if it
// supports cancellation.
func (g *Gateway) CancelOrder(ctx context.Context, venue model.VenueID, venueOrderID string, instrument model.Instrument) error {
	h, ok := g.Handle(venue)
	if !ok {
		return fmt.Errorf("cancel order: unknown venue %q", venue)
	}
	if !h.cfg.Driver.Capabilities().Has(venuedriver.CapCancelOrder) {
		return fmt.Errorf("%w: venue %s driver cannot cancel orders", model.ErrPermanentVenue, venue)
	}
	return h.cfg.Driver.CancelOrder(ctx, venueOrderID, instrument)
}

// Close stops every venue handle.
func (g *Gateway) Close() {
	for _, h := range g.snapshotHandles() {
		if err := h.Close(); err != nil {
			log.Printf("gateway: close venue handle error: %v", err)
		}
	}
}
