// Package venuedriver defines the opaque capability contract a trading
// venue must satisfy to be plugged into the gateway (C3). It mirrors the
// teacher's pkg/exchanges/common.Gateway interface, expanded to the full
// method set spec.md §4.3 requires, and its capability-bitmap pattern
// replaces the "any-typed driver calls" design smell called out in
// spec.md §9: callers check a Capability bit instead of type-asserting
// the driver.
package venuedriver

import (
	"context"

	"arbitrage-engine/pkg/model"
)

// Capability is one bit of the feature set a venue driver advertises.
type Capability uint32

const (
	CapStreamOrderBook Capability = 1 << iota
	CapStreamTicker
	CapStreamBalance
	CapFetchBalance
	CapCreateOrder
	CapCancelOrder
	CapFetchTradingFees
)

// Has reports whether set contains cap.
func (set Capability) Has(cap Capability) bool {
	return set&cap != 0
}

// OrderBookUpdate is one push from a streaming subscription.
type OrderBookUpdate struct {
	Snapshot model.OrderBookSnapshot
	Err      error
}

// Driver is the opaque per-venue capability set. Every method that
// hits the network is expected to respect ctx's deadline/cancellation.
type Driver interface {
	// Capabilities reports which optional methods below are meaningful
	// for this venue; callers must check before relying on them.
	Capabilities() Capability

	// LoadInstruments returns the instruments tradable on this venue.
	LoadInstruments(ctx context.Context) ([]model.Instrument, error)

	// FetchOrderBook pulls a single snapshot at the given depth.
	FetchOrderBook(ctx context.Context, instrument model.Instrument, depth int) (model.OrderBookSnapshot, error)

	// StreamOrderBook returns a channel of updates and a stop function.
	// The channel closes after stop is called or the driver gives up.
	StreamOrderBook(ctx context.Context, instrument model.Instrument, depth int) (<-chan OrderBookUpdate, func(), error)

	// FetchBalance returns free balance for currency on this venue.
	FetchBalance(ctx context.Context, currency string) (float64, error)

	// FetchTradingFees returns the fee schedule for instrument, or the
	// venue-wide wildcard schedule when instrument is empty.
	FetchTradingFees(ctx context.Context, instrument model.Instrument) (model.TradingFees, error)

	// CreateOrder submits req. The driver must treat req.ClientOrderID
	// as a native idempotency key when the underlying venue supports one.
	CreateOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error)

	// FetchOrder looks up a previously submitted order by venue order id.
	FetchOrder(ctx context.Context, venueOrderID string, instrument model.Instrument) (model.OrderResult, error)

	// FetchRecentOrders returns up to limit of the most recent orders
	// for instrument, newest first.
	FetchRecentOrders(ctx context.Context, instrument model.Instrument, limit int) ([]model.OrderResult, error)

	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, venueOrderID string, instrument model.Instrument) error

	// Close releases any resources (sockets, goroutines) held by the driver.
	Close() error
}

// AcceptedDepths describes the depth values a venue's API accepts and
// the hard cap beyond which a request must not go.
type AcceptedDepths struct {
	Values []int
	Max    int
}

// Normalize rounds requested up to the smallest accepted value >= requested,
// capping at Max. The second return reports whether capping occurred.
func (d AcceptedDepths) Normalize(requested int) (int, bool) {
	if requested <= 0 {
		if len(d.Values) > 0 {
			return d.Values[0], false
		}
		return requested, false
	}
	for _, v := range d.Values {
		if v >= requested {
			if d.Max > 0 && v > d.Max {
				return d.Max, true
			}
			return v, false
		}
	}
	if d.Max > 0 {
		return d.Max, true
	}
	if len(d.Values) > 0 {
		return d.Values[len(d.Values)-1], true
	}
	return requested, false
}
