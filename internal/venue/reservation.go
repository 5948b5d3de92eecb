package venue

import (
	"sync"
	"time"

	"arbitrage-engine/pkg/model"
)

// reservationKey identifies one (venue, currency) balance pool.
type reservationKey struct {
	venue    model.VenueID
	currency string
}

// ReservationBook tracks live BalanceReservations, earmarking part of a
// venue's free balance so two concurrent trades never double-spend it.
// Grounded on the teacher's internal/balance.Manager Lock/Unlock, but
// reworked into a keyed ledger of reservations (tagged by tradeKey so a
// whole trade's holds can be released atomically) instead of a single
// running total, and given the 60s auto-expiry spec.md §4.3 requires.
type ReservationBook struct {
	mu           sync.Mutex
	maxAge       time.Duration
	reservations map[string]model.BalanceReservation // keyed by tradeKey+venue+currency
}

// NewReservationBook creates an empty book with the spec default 60s expiry.
func NewReservationBook() *ReservationBook {
	return &ReservationBook{
		maxAge:       60 * time.Second,
		reservations: make(map[string]model.BalanceReservation),
	}
}

func resID(tradeKey string, venue model.VenueID, currency string) string {
	return tradeKey + "|" + string(venue) + "|" + currency
}

// Reserve records a new reservation for tradeKey.
func (b *ReservationBook) Reserve(tradeKey string, venue model.VenueID, currency string, amount float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reservations[resID(tradeKey, venue, currency)] = model.BalanceReservation{
		TradeKey:  tradeKey,
		Venue:     venue,
		Currency:  currency,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
}

// Release removes every reservation belonging to tradeKey.
func (b *ReservationBook) Release(tradeKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, r := range b.reservations {
		if r.TradeKey == tradeKey {
			delete(b.reservations, id)
		}
	}
}

// sweepLocked evicts reservations older than maxAge. Must hold b.mu.
func (b *ReservationBook) sweepLocked(now time.Time) {
	for id, r := range b.reservations {
		if r.Stale(now, b.maxAge) {
			delete(b.reservations, id)
		}
	}
}

// Reserved returns the sum of live reservations for (venue, currency),
// excluding any reservation belonging to excludeTradeKey (used so a
// trade re-checking its own hold doesn't double-count it — spec.md §9's
// "authoritative checkRequiredBalances" open question).
func (b *ReservationBook) Reserved(venue model.VenueID, currency string, excludeTradeKey string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked(time.Now())

	var total float64
	for _, r := range b.reservations {
		if r.Venue != venue || r.Currency != currency {
			continue
		}
		if excludeTradeKey != "" && r.TradeKey == excludeTradeKey {
			continue
		}
		total += r.Amount
	}
	return total
}

// Available computes max(0, free - reserved), sweeping expired
// reservations first, per spec.md §4.3.
func (b *ReservationBook) Available(venue model.VenueID, currency string, free float64, excludeTradeKey string) float64 {
	avail := free - b.Reserved(venue, currency, excludeTradeKey)
	if avail < 0 {
		return 0
	}
	return avail
}
