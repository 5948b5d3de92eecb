package config

import (
	"os"
	"path/filepath"
	"testing"

	"arbitrage-engine/pkg/venuedriver"
)

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "venues.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

func TestLoadVenueCapabilitiesParsesDepthsAndCapabilities(t *testing.T) {
	path := writeYAML(t, `
venues:
  - venue: alpha
    accepted_depths: [5, 20, 50, 100]
    max_depth: 100
    capabilities: [stream_order_book, fetch_balance, create_order]
  - venue: beta
    accepted_depths: [1, 50, 200, 1000]
    max_depth: 1000
    capabilities: [stream_order_book, fetch_balance, create_order, cancel_order, fetch_trading_fees]
`)

	table, err := LoadVenueCapabilities(path)
	if err != nil {
		t.Fatalf("load venue capabilities: %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("expected 2 venues, got %d", len(table))
	}

	alpha, ok := table["alpha"]
	if !ok {
		t.Fatal("expected alpha entry")
	}
	depths := alpha.Depths()
	if depths.Max != 100 || len(depths.Values) != 4 {
		t.Fatalf("unexpected depths: %+v", depths)
	}
	set := alpha.CapabilitySet(nil)
	if !set.Has(venuedriver.CapStreamOrderBook) || !set.Has(venuedriver.CapFetchBalance) || !set.Has(venuedriver.CapCreateOrder) {
		t.Fatalf("expected stream/balance/create bits set, got %b", set)
	}
	if set.Has(venuedriver.CapCancelOrder) {
		t.Fatal("alpha did not declare cancel_order, must not have the bit set")
	}
}

func TestCapabilitySetWarnsOnUnrecognizedName(t *testing.T) {
	path := writeYAML(t, `
venues:
  - venue: alpha
    accepted_depths: [10]
    max_depth: 10
    capabilities: [stream_order_book, teleport_funds]
`)

	table, err := LoadVenueCapabilities(path)
	if err != nil {
		t.Fatalf("load venue capabilities: %v", err)
	}

	warnings := NewWarningQueue(8)
	set := table["alpha"].CapabilitySet(warnings)
	if !set.Has(venuedriver.CapStreamOrderBook) {
		t.Fatal("expected recognized capability to still be set")
	}

	var warned []string
	warnings.Flush(func(msg string) { warned = append(warned, msg) })
	if len(warned) != 1 {
		t.Fatalf("expected exactly one warning for the unrecognized capability, got %d", len(warned))
	}
}

func TestLoadVenueCapabilitiesMissingFile(t *testing.T) {
	if _, err := LoadVenueCapabilities(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("expected an error for a missing capability file")
	}
}
