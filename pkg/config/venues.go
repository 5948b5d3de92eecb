package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"arbitrage-engine/pkg/venuedriver"
)

// VenueCapabilities is the static, YAML-declared capability table for
// one venue — what depth values its order-book API accepts and which
// optional driver methods it supports, independent of runtime
// discovery. Grounded on the teacher's strategy.LoadConfig
// (os.ReadFile + yaml.Unmarshal into a typed slice), generalized from a
// list of strategy definitions into a list of venue descriptors.
type VenueCapabilities struct {
	Venue         string   `yaml:"venue"`
	AcceptedDepths []int   `yaml:"accepted_depths"`
	MaxDepth      int      `yaml:"max_depth"`
	Capabilities  []string `yaml:"capabilities"`
}

type venueCapabilitiesFile struct {
	Venues []VenueCapabilities `yaml:"venues"`
}

// LoadVenueCapabilities reads the static per-venue capability table from path.
func LoadVenueCapabilities(path string) (map[string]VenueCapabilities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file venueCapabilitiesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	out := make(map[string]VenueCapabilities, len(file.Venues))
	for _, v := range file.Venues {
		out[v.Venue] = v
	}
	return out, nil
}

// Depths converts the YAML-declared depth list into the driver's
// AcceptedDepths value object.
func (c VenueCapabilities) Depths() venuedriver.AcceptedDepths {
	return venuedriver.AcceptedDepths{Values: c.AcceptedDepths, Max: c.MaxDepth}
}

var capabilityNames = map[string]venuedriver.Capability{
	"stream_order_book":   venuedriver.CapStreamOrderBook,
	"stream_ticker":       venuedriver.CapStreamTicker,
	"stream_balance":      venuedriver.CapStreamBalance,
	"fetch_balance":       venuedriver.CapFetchBalance,
	"create_order":        venuedriver.CapCreateOrder,
	"cancel_order":        venuedriver.CapCancelOrder,
	"fetch_trading_fees":  venuedriver.CapFetchTradingFees,
}

// CapabilitySet resolves the YAML capability name list into a bitmap.
// Unrecognized names are skipped rather than rejected, so an older
// binary can still load a config file written for a newer one; each
// skip is pushed onto warnings if given, for later reporting.
func (c VenueCapabilities) CapabilitySet(warnings *WarningQueue) venuedriver.Capability {
	var set venuedriver.Capability
	for _, name := range c.Capabilities {
		bit, ok := capabilityNames[name]
		if !ok {
			if warnings != nil {
				warnings.Push(fmt.Sprintf("config: venue %q declares unrecognized capability %q", c.Venue, name))
			}
			continue
		}
		set |= bit
	}
	return set
}
