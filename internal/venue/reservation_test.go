package venue

import "testing"

func TestReservationBookReleaseDropsAllHoldsForTradeKey(t *testing.T) {
	b := NewReservationBook()
	b.Reserve("trade-1", "alpha", "USD", 100)
	b.Reserve("trade-1", "alpha", "BTC", 0.5)
	b.Reserve("trade-2", "alpha", "USD", 50)

	if got := b.Reserved("alpha", "USD", ""); got != 150 {
		t.Fatalf("expected 150 reserved USD, got %v", got)
	}

	b.Release("trade-1")

	if got := b.Reserved("alpha", "USD", ""); got != 50 {
		t.Fatalf("expected 50 reserved USD after release, got %v", got)
	}
	if got := b.Reserved("alpha", "BTC", ""); got != 0 {
		t.Fatalf("expected 0 reserved BTC after release, got %v", got)
	}
}

func TestAvailableNeverGoesNegative(t *testing.T) {
	b := NewReservationBook()
	b.Reserve("trade-1", "alpha", "USD", 1000)

	if got := b.Available("alpha", "USD", 100, ""); got != 0 {
		t.Fatalf("expected available to floor at 0, got %v", got)
	}
}
