package model

import (
	"testing"
	"time"
)

func TestInstrumentBaseQuote(t *testing.T) {
	inst := Instrument("BTC/USD")
	if got := inst.Base(); got != "BTC" {
		t.Errorf("Base() = %q, want BTC", got)
	}
	if got := inst.Quote(); got != "USD" {
		t.Errorf("Quote() = %q, want USD", got)
	}
}

func TestTradeKeyFormat(t *testing.T) {
	got := TradeKey("BTC/USD", "alpha", "beta")
	want := "BTC/USD-alpha-beta"
	if got != want {
		t.Errorf("TradeKey() = %q, want %q", got, want)
	}
}

func TestOrderBookSnapshotBestLevels(t *testing.T) {
	var empty OrderBookSnapshot
	if _, ok := empty.BestAsk(); ok {
		t.Error("BestAsk() on empty book should report false")
	}
	if _, ok := empty.BestBid(); ok {
		t.Error("BestBid() on empty book should report false")
	}

	book := OrderBookSnapshot{
		Asks: []PriceLevel{{Price: 100, Amount: 1}, {Price: 101, Amount: 2}},
		Bids: []PriceLevel{{Price: 99, Amount: 1}, {Price: 98, Amount: 2}},
	}
	ask, ok := book.BestAsk()
	if !ok || ask.Price != 100 {
		t.Errorf("BestAsk() = %+v, ok=%v, want price 100", ask, ok)
	}
	bid, ok := book.BestBid()
	if !ok || bid.Price != 99 {
		t.Errorf("BestBid() = %+v, ok=%v, want price 99", bid, ok)
	}
}

func TestOrderBookSnapshotAge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	snap := OrderBookSnapshot{VenueTimestamp: now.Add(-3 * time.Second)}
	if got := snap.Age(now); got != 3*time.Second {
		t.Errorf("Age() = %v, want 3s", got)
	}
}

func TestTradingFeesExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var zero TradingFees
	if !zero.Expired(now, time.Hour) {
		t.Error("a never-refreshed fee schedule should be expired")
	}

	fresh := TradingFees{LastRefreshed: now.Add(-time.Minute)}
	if fresh.Expired(now, time.Hour) {
		t.Error("fee schedule refreshed a minute ago should not be expired under a 1h ttl")
	}

	stale := TradingFees{LastRefreshed: now.Add(-2 * time.Hour)}
	if !stale.Expired(now, time.Hour) {
		t.Error("fee schedule refreshed 2h ago should be expired under a 1h ttl")
	}
}

func TestOrderResultFillPercent(t *testing.T) {
	cases := []struct {
		name string
		r    OrderResult
		want float64
	}{
		{"zero requested", OrderResult{RequestedAmount: 0, FilledAmount: 5}, 0},
		{"full fill", OrderResult{RequestedAmount: 10, FilledAmount: 10}, 100},
		{"partial fill", OrderResult{RequestedAmount: 10, FilledAmount: 4}, 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.FillPercent(); got != tc.want {
				t.Errorf("FillPercent() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBalanceReservationStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res := BalanceReservation{CreatedAt: now.Add(-30 * time.Second)}
	if res.Stale(now, time.Minute) {
		t.Error("a 30s-old reservation should not be stale under a 1m max age")
	}
	if !res.Stale(now, 10*time.Second) {
		t.Error("a 30s-old reservation should be stale under a 10s max age")
	}
}

func TestTradeLedgerEntryTerminal(t *testing.T) {
	cases := []struct {
		status TradeStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusBuyExecuted, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tc := range cases {
		entry := TradeLedgerEntry{Status: tc.status}
		if got := entry.Terminal(); got != tc.want {
			t.Errorf("Terminal() for status %q = %v, want %v", tc.status, got, tc.want)
		}
	}
}
