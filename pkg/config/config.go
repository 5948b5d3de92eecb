// Package config loads the engine's environment-driven settings,
// following the teacher's getEnv/getEnvFloat/getEnvInt + godotenv
// pattern, generalized from a single-exchange trading core into a
// variable set of venues discovered from ENABLED_EXCHANGES.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"arbitrage-engine/pkg/model"
)

// VenueCredentials holds the per-venue environment block
// {VENUE}_API_KEY/_SECRET/_PASSWORD/_RATE_LIMIT/_TIMEOUT.
type VenueCredentials struct {
	APIKey       string
	APISecret    string
	APIPassword  string
	RateLimitRPS float64
	Timeout      time.Duration
}

// ShutdownBehavior selects how the supervisor reacts to a termination signal.
type ShutdownBehavior string

const (
	ShutdownCancel ShutdownBehavior = "cancel"
	ShutdownWait   ShutdownBehavior = "wait"
	ShutdownForce  ShutdownBehavior = "force"
)

// Config holds every environment-driven setting the engine needs at startup.
type Config struct {
	TestMode bool

	EnabledExchanges []string
	Venues           map[string]VenueCredentials

	TradingSymbols []string

	MaxConcurrentTrades            int
	OrderBookDepth                 int
	OrderBookStalenessThreshold    time.Duration
	ShutdownBehavior               ShutdownBehavior

	SimpleArbitrageMinProfit              float64
	SimpleArbitrageMaxTradeAmount         float64
	SimpleArbitrageCheckInterval          time.Duration
	SimpleArbitrageMaxSlippage            float64
	SimpleArbitragePartialFillThreshold   float64
	SimpleArbitragePriceTolerance         float64
	SimpleArbitrageMaxProfitErosion       float64
	SimpleArbitrageDynamicTolerance       bool

	// Warnings accumulates anything Load wants to report but can't log
	// yet, since the logger isn't initialized until after config loads.
	Warnings *WarningQueue
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	exchanges := splitAndTrim(getEnv("ENABLED_EXCHANGES", ""))
	if len(exchanges) == 0 {
		return nil, fmt.Errorf("%w: ENABLED_EXCHANGES must name at least one venue", model.ErrConfig)
	}

	warnings := NewWarningQueue(32)

	testMode := getEnv("TEST_MODE", "true") == "true"
	venues := make(map[string]VenueCredentials, len(exchanges))
	for _, name := range exchanges {
		prefix := strings.ToUpper(name)
		creds := VenueCredentials{
			APIKey:       os.Getenv(prefix + "_API_KEY"),
			APISecret:    os.Getenv(prefix + "_API_SECRET"),
			APIPassword:  os.Getenv(prefix + "_API_PASSWORD"),
			RateLimitRPS: getEnvFloat(prefix+"_RATE_LIMIT", 10),
			Timeout:      time.Duration(getEnvInt(prefix+"_TIMEOUT", 10)) * time.Second,
		}
		if !testMode && creds.APIKey == "" {
			warnings.Push(fmt.Sprintf("config: venue %q has no %s_API_KEY set", name, prefix))
		}
		venues[name] = creds
	}

	shutdown := ShutdownBehavior(strings.ToLower(getEnv("SHUTDOWN_BEHAVIOR", "wait")))
	switch shutdown {
	case ShutdownCancel, ShutdownWait, ShutdownForce:
	default:
		return nil, fmt.Errorf("%w: SHUTDOWN_BEHAVIOR must be one of cancel|wait|force, got %q", model.ErrConfig, shutdown)
	}

	return &Config{
		TestMode:         testMode,
		EnabledExchanges: exchanges,
		Venues:           venues,
		TradingSymbols:   splitAndTrim(getEnv("TRADING_SYMBOLS", "")),
		Warnings:         warnings,

		MaxConcurrentTrades:         getEnvInt("MAX_CONCURRENT_TRADES", 3),
		OrderBookDepth:              getEnvInt("ORDER_BOOK_DEPTH", 10),
		OrderBookStalenessThreshold: time.Duration(getEnvInt("ORDER_BOOK_STALENESS_THRESHOLD_MS", 500)) * time.Millisecond,
		ShutdownBehavior:            shutdown,

		SimpleArbitrageMinProfit:            getEnvFloat("SIMPLE_ARBITRAGE_MIN_PROFIT", 0.1),
		SimpleArbitrageMaxTradeAmount:       getEnvFloat("SIMPLE_ARBITRAGE_MAX_TRADE_AMOUNT", 1.0),
		SimpleArbitrageCheckInterval:        time.Duration(getEnvInt("SIMPLE_ARBITRAGE_CHECK_INTERVAL", 5)) * time.Second,
		SimpleArbitrageMaxSlippage:          getEnvFloat("SIMPLE_ARBITRAGE_MAX_SLIPPAGE", 0.5),
		SimpleArbitragePartialFillThreshold: getEnvFloat("SIMPLE_ARBITRAGE_PARTIAL_FILL_THRESHOLD", 95),
		SimpleArbitragePriceTolerance:       getEnvFloat("SIMPLE_ARBITRAGE_PRICE_TOLERANCE", 0.1),
		SimpleArbitrageMaxProfitErosion:     getEnvFloat("SIMPLE_ARBITRAGE_MAX_PROFIT_EROSION", 20),
		SimpleArbitrageDynamicTolerance:     getEnv("SIMPLE_ARBITRAGE_DYNAMIC_TOLERANCE", "true") == "true",
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
