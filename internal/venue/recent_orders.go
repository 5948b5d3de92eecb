package venue

import (
	"sync"
	"time"

	"arbitrage-engine/pkg/model"
)

// RecentOrders is a 60s-TTL map from clientOrderId to the venue order
// id it resolved to, used to short-circuit retried submissions (the
// at-most-once guarantee in spec.md §4.3 step 2).
type RecentOrders struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]model.RecentOrderEntry
}

// NewRecentOrders creates an empty map with the spec default 60s TTL.
func NewRecentOrders() *RecentOrders {
	return &RecentOrders{
		ttl: 60 * time.Second,
		m:   make(map[string]model.RecentOrderEntry),
	}
}

// Record stores the clientOrderId -> venueOrderId mapping.
func (r *RecentOrders) Record(clientOrderID, venueOrderID string, venue model.VenueID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[clientOrderID] = model.RecentOrderEntry{
		ClientOrderID: clientOrderID,
		VenueOrderID:  venueOrderID,
		Venue:         venue,
		RecordedAt:    time.Now(),
	}
}

// Lookup returns the entry for clientOrderId if present and not expired.
func (r *RecentOrders) Lookup(clientOrderID string) (model.RecentOrderEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.m[clientOrderID]
	if !ok {
		return model.RecentOrderEntry{}, false
	}
	if time.Since(entry.RecordedAt) > r.ttl {
		delete(r.m, clientOrderID)
		return model.RecentOrderEntry{}, false
	}
	return entry, true
}
