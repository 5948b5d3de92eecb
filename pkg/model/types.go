// Package model holds the data types shared by every component of the
// arbitrage engine: venue gateway, strategy engine, ledger and rate
// limiter all speak this vocabulary instead of each other's internals.
package model

import (
	"strings"
	"time"
)

// VenueID identifies a configured trading venue.
type VenueID string

// Instrument is a "BASE/QUOTE" pair identifier.
type Instrument string

// Base returns the instrument's base currency.
func (i Instrument) Base() string {
	base, _, _ := strings.Cut(string(i), "/")
	return base
}

// Quote returns the instrument's quote currency.
func (i Instrument) Quote() string {
	_, quote, _ := strings.Cut(string(i), "/")
	return quote
}

// PriceLevel is a single resting order-book level.
type PriceLevel struct {
	Price  float64
	Amount float64
}

// OrderBookSnapshot is a point-in-time view of one venue's book for one
// instrument. Asks are sorted ascending by price, bids descending.
type OrderBookSnapshot struct {
	Venue                 VenueID
	Instrument            Instrument
	Asks                  []PriceLevel
	Bids                  []PriceLevel
	VenueTimestamp        time.Time
	LocalReceiveTimestamp time.Time
}

// BestAsk returns the lowest ask level, or (0, false) if the book has no asks.
func (s OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// BestBid returns the highest bid level, or (0, false) if the book has no bids.
func (s OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// Age returns how long ago the venue stamped this snapshot, relative to now.
func (s OrderBookSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.VenueTimestamp)
}

// TradingFees holds a venue's maker/taker schedule.
type TradingFees struct {
	MakerRate      float64
	TakerRate      float64
	PercentageFlag bool
	LastRefreshed  time.Time
}

// Expired reports whether the fee entry is older than ttl relative to now.
func (f TradingFees) Expired(now time.Time, ttl time.Duration) bool {
	if f.LastRefreshed.IsZero() {
		return true
	}
	return now.Sub(f.LastRefreshed) > ttl
}

// FeeBreakdown is the fee component of a detected opportunity.
type FeeBreakdown struct {
	BuyFee  float64
	SellFee float64
	Total   float64
}

// Opportunity is a derived, immutable candidate cross-venue trade.
type Opportunity struct {
	Instrument     Instrument
	BuyVenue       VenueID
	SellVenue      VenueID
	BuyPrice       float64
	SellPrice      float64
	Amount         float64
	ProfitPercent  float64
	ProfitAmount   float64
	Timestamp      time.Time
	Fees           FeeBreakdown
}

// TradeKey is the unique identifier of an in-flight arbitrage attempt.
func TradeKey(instrument Instrument, buyVenue, sellVenue VenueID) string {
	return string(instrument) + "-" + string(buyVenue) + "-" + string(sellVenue)
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes market vs limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest is submitted to a VenueDriver. ClientOrderID is mandatory
// and doubles as the idempotency key.
type OrderRequest struct {
	Venue         VenueID
	Instrument    Instrument
	Side          Side
	Amount        float64
	Type          OrderType
	Price         float64 // required when Type == OrderTypeLimit
	ClientOrderID string
}

// OrderOutcome normalizes the terminal result of an order submission.
type OrderOutcome string

const (
	OutcomeSuccess OrderOutcome = "success"
	OutcomeFailure OrderOutcome = "failure"
)

// OrderResult is the hydrated result of an order, whether freshly
// submitted or recovered via the idempotency path.
type OrderResult struct {
	Venue           VenueID
	VenueOrderID    string
	ClientOrderID   string
	Instrument      Instrument
	Side            Side
	RequestedAmount float64
	FilledAmount    float64
	AvgPrice        float64
	Cost            float64
	FeePaid         float64
	VenueTimestamp  time.Time
	Outcome         OrderOutcome
	ErrorDetail     string
}

// FillPercent returns how much of the requested amount actually filled, in [0, 100+].
func (r OrderResult) FillPercent() float64 {
	if r.RequestedAmount <= 0 {
		return 0
	}
	return r.FilledAmount / r.RequestedAmount * 100
}

// BalanceReservation earmarks a slice of a venue balance for an in-flight trade.
type BalanceReservation struct {
	TradeKey  string
	Venue     VenueID
	Currency  string
	Amount    float64
	CreatedAt time.Time
}

// Stale reports whether the reservation is older than maxAge relative to now.
func (r BalanceReservation) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(r.CreatedAt) > maxAge
}

// TradeStatus is the lifecycle state of a TradeLedgerEntry.
type TradeStatus string

const (
	StatusPending      TradeStatus = "pending"
	StatusBuyExecuted  TradeStatus = "buyExecuted"
	StatusCompleted    TradeStatus = "completed"
	StatusFailed       TradeStatus = "failed"
)

// TradeLedgerEntry is the durable record of one in-flight (or just
// concluded) arbitrage attempt.
type TradeLedgerEntry struct {
	TradeKey    string       `json:"tradeKey"`
	Opportunity Opportunity  `json:"opportunity"`
	Status      TradeStatus  `json:"status"`
	BuyResult   *OrderResult `json:"buyResult,omitempty"`
	SellResult  *OrderResult `json:"sellResult,omitempty"`
	StartedAt   time.Time    `json:"startedAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	FailureNote string       `json:"failureNote,omitempty"`
}

// Terminal reports whether the entry has reached a terminal status.
func (e TradeLedgerEntry) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// RecentOrderEntry lets the gateway short-circuit a retried submission.
type RecentOrderEntry struct {
	ClientOrderID string
	VenueOrderID  string
	Venue         VenueID
	RecordedAt    time.Time
}
