package venue

import (
	"context"
	"sync"
	"time"

	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/venuedriver"
)

// FeeCache caches TradingFees per venue, with an optional per-instrument
// override layered over a venue-wide wildcard entry. Entries expire
// after ttl (24h per spec.md §4.3); a miss or stale hit falls back to a
// per-venue conservative default rather than failing the caller.
type FeeCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	byVenue map[model.VenueID]map[model.Instrument]model.TradingFees // "" key = wildcard
	def     map[model.VenueID]model.TradingFees
}

// NewFeeCache creates an empty cache with the given TTL.
func NewFeeCache(ttl time.Duration) *FeeCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &FeeCache{
		ttl:     ttl,
		byVenue: make(map[model.VenueID]map[model.Instrument]model.TradingFees),
		def:     make(map[model.VenueID]model.TradingFees),
	}
}

// SetDefault installs the conservative fallback fee schedule for venue,
// used whenever a live fetch fails or no cached entry is fresh.
func (c *FeeCache) SetDefault(venue model.VenueID, fees model.TradingFees) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.def[venue] = fees
}

const wildcardInstrument = model.Instrument("")

// RefreshAll fetches the wildcard fee schedule for one venue from its
// driver and stores it, called once after init and then every 24h by the caller.
func (c *FeeCache) RefreshAll(ctx context.Context, venue model.VenueID, driver venuedriver.Driver) error {
	fees, err := driver.FetchTradingFees(ctx, wildcardInstrument)
	if err != nil {
		return err
	}
	fees.LastRefreshed = time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byVenue[venue] == nil {
		c.byVenue[venue] = make(map[model.Instrument]model.TradingFees)
	}
	c.byVenue[venue][wildcardInstrument] = fees
	return nil
}

// RefreshInstrument fetches and stores the per-instrument override.
func (c *FeeCache) RefreshInstrument(ctx context.Context, venue model.VenueID, driver venuedriver.Driver, instrument model.Instrument) error {
	fees, err := driver.FetchTradingFees(ctx, instrument)
	if err != nil {
		return err
	}
	fees.LastRefreshed = time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byVenue[venue] == nil {
		c.byVenue[venue] = make(map[model.Instrument]model.TradingFees)
	}
	c.byVenue[venue][instrument] = fees
	return nil
}

// Lookup returns the best available fee schedule for (venue, instrument):
// a fresh per-instrument override, else a fresh wildcard entry, else the
// venue's conservative default.
func (c *FeeCache) Lookup(venue model.VenueID, instrument model.Instrument) model.TradingFees {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	if perVenue, ok := c.byVenue[venue]; ok {
		if fees, ok := perVenue[instrument]; ok && !fees.Expired(now, c.ttl) {
			return fees
		}
		if fees, ok := perVenue[wildcardInstrument]; ok && !fees.Expired(now, c.ttl) {
			return fees
		}
	}
	return c.def[venue]
}
