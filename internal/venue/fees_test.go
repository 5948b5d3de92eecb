package venue

import (
	"context"
	"testing"
	"time"

	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/venuedriver/mockdriver"
)

func TestFeeCacheLookupPrefersInstrumentOverrideOverWildcard(t *testing.T) {
	cache := NewFeeCache(time.Hour)
	cache.SetDefault("alpha", model.TradingFees{MakerRate: 0.01, TakerRate: 0.01, PercentageFlag: true})

	drv := mockdriver.New("alpha")
	drv.Fees = model.TradingFees{MakerRate: 0.002, TakerRate: 0.002, PercentageFlag: true}
	if err := cache.RefreshAll(context.Background(), "alpha", drv); err != nil {
		t.Fatalf("refresh all: %v", err)
	}

	drv.Fees = model.TradingFees{MakerRate: 0.001, TakerRate: 0.001, PercentageFlag: true}
	if err := cache.RefreshInstrument(context.Background(), "alpha", drv, "BTC/USD"); err != nil {
		t.Fatalf("refresh instrument: %v", err)
	}

	got := cache.Lookup("alpha", "BTC/USD")
	if got.TakerRate != 0.001 {
		t.Fatalf("expected instrument override 0.001, got %v", got.TakerRate)
	}

	other := cache.Lookup("alpha", "ETH/USD")
	if other.TakerRate != 0.002 {
		t.Fatalf("expected wildcard 0.002 for uncovered instrument, got %v", other.TakerRate)
	}
}

func TestFeeCacheFallsBackToDefaultWhenExpired(t *testing.T) {
	cache := NewFeeCache(time.Millisecond)
	cache.SetDefault("alpha", model.TradingFees{MakerRate: 0.01, TakerRate: 0.01, PercentageFlag: true})

	drv := mockdriver.New("alpha")
	drv.Fees = model.TradingFees{MakerRate: 0.001, TakerRate: 0.001, PercentageFlag: true}
	if err := cache.RefreshAll(context.Background(), "alpha", drv); err != nil {
		t.Fatalf("refresh all: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	got := cache.Lookup("alpha", "BTC/USD")
	if got.TakerRate != 0.01 {
		t.Fatalf("expected expired cache entry to fall back to default 0.01, got %v", got.TakerRate)
	}
}
