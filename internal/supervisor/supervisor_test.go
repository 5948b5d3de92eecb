package supervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"arbitrage-engine/internal/arbitrage"
	"arbitrage-engine/pkg/config"
	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/venuedriver"
	"arbitrage-engine/pkg/venuedriver/mockdriver"
)

func testConfig() *config.Config {
	return &config.Config{
		TestMode:         true,
		EnabledExchanges: []string{"alpha", "beta"},
		Venues:           map[string]config.VenueCredentials{},
		TradingSymbols:   []string{"BTC/USD"},
		ShutdownBehavior: config.ShutdownWait,
		Warnings:         config.NewWarningQueue(8),
	}
}

func TestInitializeRecoversAndStartsEngine(t *testing.T) {
	dir := t.TempDir()
	sup, err := New(testConfig(), filepath.Join(dir, "trade-state.json"), filepath.Join(dir, "trade-history.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alpha := mockdriver.New("alpha")
	beta := mockdriver.New("beta")
	specs := []VenueSpec{
		{Venue: "alpha", Driver: alpha, Depths: venuedriver.AcceptedDepths{Values: []int{10}, Max: 10}},
		{Venue: "beta", Driver: beta, Depths: venuedriver.AcceptedDepths{Values: []int{10}, Max: 10}},
	}

	engCfg := arbitrage.DefaultConfig()
	engCfg.Instruments = []model.Instrument{"BTC/USD"}
	engCfg.CheckInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Initialize(ctx, &engCfg, specs); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(sup.InitErrors()) != 0 {
		t.Fatalf("unexpected init errors: %v", sup.InitErrors())
	}
	if sup.Gateway() == nil || sup.Engine() == nil {
		t.Fatal("expected gateway and engine to be wired")
	}

	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sup.Shutdown(cancel)
}

func TestInitializeSkipsMissingDriverAndContinues(t *testing.T) {
	dir := t.TempDir()
	sup, err := New(testConfig(), filepath.Join(dir, "trade-state.json"), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	good := mockdriver.New("alpha")
	specs := []VenueSpec{
		{Venue: "alpha", Driver: good, Depths: venuedriver.AcceptedDepths{Values: []int{10}, Max: 10}},
		{Venue: "broken", Driver: nil}, // e.g. a venue whose driver construction step failed upstream
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Initialize(ctx, nil, specs); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(sup.InitErrors()) == 0 {
		t.Fatal("expected the missing driver to be recorded as an init error")
	}
	if _, ok := sup.Gateway().Handle("broken"); ok {
		t.Fatal("expected the venue with no driver to not be registered")
	}
	if _, ok := sup.Gateway().Handle("alpha"); !ok {
		t.Fatal("expected the good venue to still be registered")
	}

	sup.Shutdown(cancel)
}

func TestRunBeforeInitializeFails(t *testing.T) {
	dir := t.TempDir()
	sup, err := New(testConfig(), filepath.Join(dir, "trade-state.json"), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Run(context.Background()); err == nil {
		t.Fatal("expected Run before Initialize to fail")
	}
}
