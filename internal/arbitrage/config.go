package arbitrage

import (
	"time"

	"arbitrage-engine/pkg/model"
)

// Config parameterizes the strategy engine's scan cadence and gating
// thresholds, mirroring the tunables risk.RiskConfig exposes in the
// teacher repo but scoped to cross-venue arbitrage rather than
// single-venue position risk.
type Config struct {
	Instruments         []model.Instrument
	CheckInterval       time.Duration
	DrainTimeout        time.Duration
	OrderTimeout        time.Duration
	MaxConcurrentTrades int

	MinProfitPercent float64
	MaxTradeAmount   float64
	MinTradeAmounts  map[model.Instrument]float64
	DefaultMinTrade  float64

	MaxSlippagePercent         float64
	PartialFillThresholdPercent float64
	PriceTolerancePercent      float64
	MaxProfitErosionPercent    float64
	DynamicToleranceEnabled    bool

	// StalenessThreshold bounds how old a freshly re-fetched book may be
	// before validateCurrentPrices rejects the candidate outright,
	// mirroring the venue handle's own staleness gate (spec.md §4.3) but
	// applied to the direct-fetch path rather than the streamed cache.
	StalenessThreshold time.Duration

	// ReservePercent pads the quote-currency balance check above the
	// literal required amount, absorbing fee-estimate drift between
	// the check and the actual fill.
	ReservePercent float64

	MaxVarianceHistory int
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:               5 * time.Second,
		DrainTimeout:                60 * time.Second,
		OrderTimeout:                30 * time.Second,
		MaxConcurrentTrades:         3,
		MinProfitPercent:            0.1,
		MaxTradeAmount:              1.0,
		MinTradeAmounts:             map[model.Instrument]float64{},
		DefaultMinTrade:             0.0001,
		MaxSlippagePercent:          0.5,
		PartialFillThresholdPercent: 95,
		PriceTolerancePercent:       0.1,
		MaxProfitErosionPercent:     20,
		DynamicToleranceEnabled:     true,
		StalenessThreshold:          500 * time.Millisecond,
		ReservePercent:              0.005,
		MaxVarianceHistory:          100,
	}
}

// MinTradeAmount returns the configured floor for instrument, falling
// back to DefaultMinTrade when no override is set.
func (c Config) MinTradeAmount(instrument model.Instrument) float64 {
	if v, ok := c.MinTradeAmounts[instrument]; ok {
		return v
	}
	return c.DefaultMinTrade
}
