package arbitrage

import (
	"sync"
	"time"
)

// varianceSample records one validateCurrentPrices observation,
// independent of whether the candidate went on to execute.
type varianceSample struct {
	BuyVariance   float64
	SellVariance  float64
	TotalVariance float64
	ProfitPercent float64
	RecordedAt    time.Time
}

// varianceHistory is a fixed-capacity ring of the most recent samples,
// used to derive the telemetry described alongside validateCurrentPrices.
type varianceHistory struct {
	mu       sync.Mutex
	capacity int
	samples  []varianceSample
}

func newVarianceHistory(capacity int) *varianceHistory {
	if capacity <= 0 {
		capacity = 100
	}
	return &varianceHistory{capacity: capacity}
}

func (h *varianceHistory) record(s varianceSample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, s)
	if len(h.samples) > h.capacity {
		h.samples = h.samples[len(h.samples)-h.capacity:]
	}
}

// VarianceTelemetry is the derived summary over the variance history.
type VarianceTelemetry struct {
	AvgVariance     float64
	MaxVariance     float64
	RecentCount     int
	AvgProfitImpact float64
}

func (h *varianceHistory) telemetry() VarianceTelemetry {
	h.mu.Lock()
	defer h.mu.Unlock()

	var t VarianceTelemetry
	t.RecentCount = len(h.samples)
	if t.RecentCount == 0 {
		return t
	}

	var sumVariance, sumImpact float64
	for _, s := range h.samples {
		sumVariance += s.TotalVariance
		if s.TotalVariance > t.MaxVariance {
			t.MaxVariance = s.TotalVariance
		}
		if s.ProfitPercent != 0 {
			sumImpact += s.TotalVariance / s.ProfitPercent * 100
		}
	}
	t.AvgVariance = sumVariance / float64(t.RecentCount)
	t.AvgProfitImpact = sumImpact / float64(t.RecentCount)
	return t
}
