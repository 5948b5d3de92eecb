// Command arbitrage-engine is the process entry point for the
// cross-venue arbitrage execution engine: it loads configuration, wires
// the venue gateway, ledger, strategy engine, and operator HTTP
// surface, then runs until a termination signal triggers the
// configured shutdown drain policy.
//
// Grounded on the teacher's cmd/trading-core/main.go wiring sequence
// (log flags -> config.Load -> db/state init -> per-service Start(ctx)
// -> signal.Notify shutdown), generalized from one exchange's gateway
// into a config-driven set of venue gateways via the Supervisor.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbitrage-engine/internal/api"
	"arbitrage-engine/internal/arbitrage"
	"arbitrage-engine/internal/events"
	"arbitrage-engine/internal/supervisor"
	"arbitrage-engine/pkg/config"
	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/venuedriver"
	"arbitrage-engine/pkg/venuedriver/mockdriver"
)

// driverBuilder constructs a venuedriver.Driver for one configured
// venue. Registered per venue-name per the design note on dynamic
// access to venue drivers (spec.md §9): a name->constructor registry
// rather than reflective dispatch on a class name.
type driverBuilder func(venue model.VenueID, creds config.VenueCredentials, caps venuedriverCaps) venuedriver.Driver

type venuedriverCaps struct {
	depths       venuedriver.AcceptedDepths
	fee          model.TradingFees
	capabilities venuedriver.Capability
}

// driverRegistry holds the venue drivers the engine can select by name;
// only the deterministic in-memory mock is registered (the websocket
// reference driver in pkg/venuedriver/wsref is not). Real venue protocol adapters are
// explicitly out of scope (spec.md §1); a production deployment adds
// its own entries here against the same venuedriver.Driver contract.
var driverRegistry = map[string]driverBuilder{
	"mock": newMockDriver,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("arbitrage-engine starting, test_mode=%v, venues=%v, symbols=%v",
		cfg.TestMode, cfg.EnabledExchanges, cfg.TradingSymbols)

	ledgerPath := getEnvDefault("LEDGER_PATH", "data/trade-state.json")
	historyPath := getEnvDefault("HISTORY_DB_PATH", "data/trade-history.db")

	sup, err := supervisor.New(cfg, ledgerPath, historyPath)
	if err != nil {
		log.Fatalf("supervisor init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	specs, initErrs := buildVenueSpecs(cfg)
	for _, e := range initErrs {
		log.Printf("venue init warning: %v", e)
	}
	cfg.Warnings.Flush(func(msg string) { log.Println(msg) })

	engineCfg := engineConfigFromEnv(cfg)

	if err := sup.Initialize(ctx, &engineCfg, specs); err != nil {
		log.Fatalf("supervisor initialize failed: %v", err)
	}
	for _, e := range sup.InitErrors() {
		log.Printf("venue registration warning: %v", e)
	}

	// Mirror every terminal trade into the audit trail (SPEC_FULL.md's
	// history addition), independent of the ledger's own active-set role.
	completedSub, unsubCompleted := sup.Bus().Subscribe(events.EventExecutionCompleted, 32)
	defer unsubCompleted()
	go func() {
		for msg := range completedSub {
			entry, ok := msg.(model.TradeLedgerEntry)
			if !ok || entry.TradeKey == "" {
				continue
			}
			sup.ArchiveTerminal(entry)
		}
	}()

	if err := sup.Run(ctx); err != nil {
		log.Fatalf("supervisor run failed: %v", err)
	}

	if cfg.TestMode {
		go seedMockBooks(ctx, specs, cfg.TradingSymbols)
	}

	jwtSecret := getEnvDefault("OPERATOR_JWT_SECRET", "dev-secret-change-me")
	version := getEnvDefault("APP_VERSION", "v1.0-dev")
	server := api.NewServer(sup.Ledger(), sup.Gateway(), sup.Engine(), sup.History(), jwtSecret, version)
	go func() {
		addr := ":" + getEnvDefault("PORT", "8080")
		if err := server.Start(addr); err != nil {
			log.Printf("api server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutdown signal received, draining per shutdown_behavior=" + string(cfg.ShutdownBehavior))

	sup.Shutdown(cancel)
	log.Println("arbitrage-engine stopped")
}

func engineConfigFromEnv(cfg *config.Config) arbitrage.Config {
	engCfg := arbitrage.DefaultConfig()

	instruments := make([]model.Instrument, 0, len(cfg.TradingSymbols))
	for _, sym := range cfg.TradingSymbols {
		instruments = append(instruments, model.Instrument(sym))
	}
	engCfg.Instruments = instruments

	engCfg.CheckInterval = cfg.SimpleArbitrageCheckInterval
	engCfg.MaxConcurrentTrades = cfg.MaxConcurrentTrades
	engCfg.MinProfitPercent = cfg.SimpleArbitrageMinProfit
	engCfg.MaxTradeAmount = cfg.SimpleArbitrageMaxTradeAmount
	engCfg.MaxSlippagePercent = cfg.SimpleArbitrageMaxSlippage
	engCfg.PartialFillThresholdPercent = cfg.SimpleArbitragePartialFillThreshold
	engCfg.PriceTolerancePercent = cfg.SimpleArbitragePriceTolerance
	engCfg.MaxProfitErosionPercent = cfg.SimpleArbitrageMaxProfitErosion
	engCfg.DynamicToleranceEnabled = cfg.SimpleArbitrageDynamicTolerance
	engCfg.StalenessThreshold = cfg.OrderBookStalenessThreshold

	return engCfg
}

// defaultDepths is the fallback accepted-depth table for any venue with
// no entry in the YAML capability table (or when that table fails to
// load at all).
var defaultDepths = venuedriver.AcceptedDepths{Values: []int{5, 10, 20, 50, 100}, Max: 100}

// buildVenueSpecs resolves each enabled exchange name against
// driverRegistry. A venue named "mock" or, under TEST_MODE, any
// unrecognized name, gets the in-memory driver; otherwise (a venue
// named for a real, unregistered protocol adapter) it's skipped and
// reported, per spec.md §4.5's partial-init tolerance. Per-venue depth
// tables and capability bitmaps come from the YAML file at
// VENUE_CAPABILITIES_PATH when present (pkg/config.LoadVenueCapabilities),
// falling back to defaultDepths/the driver's own advertised
// capabilities for any venue the file doesn't mention.
func buildVenueSpecs(cfg *config.Config) ([]supervisor.VenueSpec, []error) {
	var specs []supervisor.VenueSpec
	var errs []error

	capsPath := getEnvDefault("VENUE_CAPABILITIES_PATH", "config/venues.yaml")
	venueCaps, err := config.LoadVenueCapabilities(capsPath)
	if err != nil {
		venueCaps = nil
		log.Printf("venue capabilities: %q not loaded (%v), using built-in defaults", capsPath, err)
	}

	for _, name := range cfg.EnabledExchanges {
		venueID := model.VenueID(name)
		creds := cfg.Venues[name]

		builder, ok := driverRegistry[name]
		if !ok {
			if !cfg.TestMode {
				errs = append(errs, fmt.Errorf("venue %q: no registered driver and test_mode=false", name))
				continue
			}
			builder = newMockDriver
		}

		depths := defaultDepths
		var capOverride venuedriver.Capability
		if decl, ok := venueCaps[name]; ok {
			depths = decl.Depths()
			capOverride = decl.CapabilitySet(cfg.Warnings)
		}

		driver := builder(venueID, creds, venuedriverCaps{depths: depths, capabilities: capOverride})
		specs = append(specs, supervisor.VenueSpec{
			Venue:  venueID,
			Driver: driver,
			Depths: depths,
		})
	}
	return specs, errs
}

func newMockDriver(venue model.VenueID, _ config.VenueCredentials, caps venuedriverCaps) venuedriver.Driver {
	d := mockdriver.New(venue)
	d.Depths = caps.depths
	if caps.capabilities != 0 {
		d.Caps = caps.capabilities
	}
	d.Balances = map[string]float64{}
	return d
}

// seedMockBooks periodically republishes an order book per configured
// symbol on every mock-backed venue, with a small per-venue price
// offset so the demo scan actually finds a cross-venue dislocation —
// mirroring the teacher's market.MockFeed synthetic price generator. It
// runs as a background loop (rather than a one-shot push) because a
// handle's stream channel only exists once Subscribe has run, so a
// single push issued before that race loses the update; a steady tick
// guarantees every handle eventually observes one.
func seedMockBooks(ctx context.Context, specs []supervisor.VenueSpec, symbols []string) {
	rng := rand.New(rand.NewSource(1))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for _, spec := range specs {
		d, ok := spec.Driver.(*mockdriver.Driver)
		if !ok {
			continue
		}
		for _, sym := range symbols {
			d.Balances[model.Instrument(sym).Base()] = 1000
			d.Balances[model.Instrument(sym).Quote()] = 100000
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, spec := range specs {
				d, ok := spec.Driver.(*mockdriver.Driver)
				if !ok {
					continue
				}
				offset := float64(i) * 0.15
				for _, sym := range symbols {
					base := 100.0 + rng.Float64()*5
					d.PushSnapshot(model.OrderBookSnapshot{
						Venue:                 spec.Venue,
						Instrument:            model.Instrument(sym),
						Asks:                  []model.PriceLevel{{Price: base + offset, Amount: 10}},
						Bids:                  []model.PriceLevel{{Price: base + offset - 0.05, Amount: 10}},
						VenueTimestamp:        time.Now(),
						LocalReceiveTimestamp: time.Now(),
					})
				}
			}
		}
	}
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
