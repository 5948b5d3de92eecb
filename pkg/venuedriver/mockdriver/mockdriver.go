// Package mockdriver implements an in-memory, deterministic
// venuedriver.Driver for tests, standing in for a real exchange
// connection. Grounded on the teacher's internal/market.MockFeed (a
// synthetic tick generator for local development), generalized from
// "publish random ticks to a bus" into a fully scriptable order book
// and order-execution fake.
package mockdriver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/venuedriver"
)

// Driver is a scriptable fake venuedriver.Driver.
type Driver struct {
	Venue        model.VenueID
	Caps         venuedriver.Capability
	Depths       venuedriver.AcceptedDepths
	Fees         model.TradingFees
	Balances     map[string]float64
	CreateOrderFn func(ctx context.Context, req model.OrderRequest) (model.OrderResult, error)

	mu       sync.Mutex
	books    map[model.Instrument]model.OrderBookSnapshot
	streams  map[model.Instrument]chan venuedriver.OrderBookUpdate
	orders   []model.OrderResult
	orderSeq int64
	closed   bool
}

// New constructs a Driver with sensible capability and depth defaults.
func New(venue model.VenueID) *Driver {
	return &Driver{
		Venue:    venue,
		Caps:     venuedriver.CapStreamOrderBook | venuedriver.CapFetchBalance | venuedriver.CapCreateOrder | venuedriver.CapFetchTradingFees,
		Depths:   venuedriver.AcceptedDepths{Values: []int{5, 10, 20, 50}, Max: 50},
		Fees:     model.TradingFees{MakerRate: 0.001, TakerRate: 0.001, PercentageFlag: true, LastRefreshed: time.Now()},
		Balances: make(map[string]float64),
		books:    make(map[model.Instrument]model.OrderBookSnapshot),
		streams:  make(map[model.Instrument]chan venuedriver.OrderBookUpdate),
	}
}

func (d *Driver) Capabilities() venuedriver.Capability { return d.Caps }

func (d *Driver) LoadInstruments(ctx context.Context) ([]model.Instrument, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Instrument, 0, len(d.books))
	for i := range d.books {
		out = append(out, i)
	}
	return out, nil
}

// PushSnapshot injects a new order book snapshot, delivering it to any
// live stream for instrument and updating FetchOrderBook's result.
func (d *Driver) PushSnapshot(snap model.OrderBookSnapshot) {
	d.mu.Lock()
	d.books[snap.Instrument] = snap
	ch := d.streams[snap.Instrument]
	d.mu.Unlock()

	if ch != nil {
		select {
		case ch <- venuedriver.OrderBookUpdate{Snapshot: snap}:
		default:
		}
	}
}

// PushStreamError delivers an error on instrument's live stream, if any.
func (d *Driver) PushStreamError(instrument model.Instrument, err error) {
	d.mu.Lock()
	ch := d.streams[instrument]
	d.mu.Unlock()
	if ch != nil {
		ch <- venuedriver.OrderBookUpdate{Err: err}
	}
}

func (d *Driver) FetchOrderBook(ctx context.Context, instrument model.Instrument, depth int) (model.OrderBookSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap, ok := d.books[instrument]
	if !ok {
		return model.OrderBookSnapshot{}, fmt.Errorf("mockdriver: no book for %s", instrument)
	}
	return snap, nil
}

func (d *Driver) StreamOrderBook(ctx context.Context, instrument model.Instrument, depth int) (<-chan venuedriver.OrderBookUpdate, func(), error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, nil, fmt.Errorf("mockdriver: closed")
	}
	ch := make(chan venuedriver.OrderBookUpdate, 16)
	d.streams[instrument] = ch
	d.mu.Unlock()

	stop := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.streams[instrument] == ch {
			delete(d.streams, instrument)
			close(ch)
		}
	}
	return ch, stop, nil
}

func (d *Driver) FetchBalance(ctx context.Context, currency string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Balances[currency], nil
}

func (d *Driver) FetchTradingFees(ctx context.Context, instrument model.Instrument) (model.TradingFees, error) {
	return d.Fees, nil
}

func (d *Driver) CreateOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	if d.CreateOrderFn != nil {
		return d.CreateOrderFn(ctx, req)
	}
	seq := atomic.AddInt64(&d.orderSeq, 1)
	result := model.OrderResult{
		Venue:           req.Venue,
		VenueOrderID:    fmt.Sprintf("%s-%d", d.Venue, seq),
		ClientOrderID:   req.ClientOrderID,
		Instrument:      req.Instrument,
		Side:            req.Side,
		RequestedAmount: req.Amount,
		FilledAmount:    req.Amount,
		AvgPrice:        req.Price,
		Cost:            req.Amount * req.Price,
		VenueTimestamp:  time.Now(),
		Outcome:         model.OutcomeSuccess,
	}
	d.mu.Lock()
	d.orders = append(d.orders, result)
	d.mu.Unlock()
	return result, nil
}

func (d *Driver) FetchOrder(ctx context.Context, venueOrderID string, instrument model.Instrument) (model.OrderResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.orders {
		if o.VenueOrderID == venueOrderID {
			return o, nil
		}
	}
	return model.OrderResult{}, fmt.Errorf("mockdriver: no order %s", venueOrderID)
}

func (d *Driver) FetchRecentOrders(ctx context.Context, instrument model.Instrument, limit int) ([]model.OrderResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.OrderResult, 0, limit)
	for i := len(d.orders) - 1; i >= 0 && len(out) < limit; i-- {
		if d.orders[i].Instrument == instrument {
			out = append(out, d.orders[i])
		}
	}
	return out, nil
}

func (d *Driver) CancelOrder(ctx context.Context, venueOrderID string, instrument model.Instrument) error {
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for instrument, ch := range d.streams {
		close(ch)
		delete(d.streams, instrument)
	}
	return nil
}
