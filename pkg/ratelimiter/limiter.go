// Package ratelimiter implements the per-venue token bucket and
// exponential backoff described for the engine's outbound traffic
// shaper (C1). It is grounded on the teacher's weight-tracking
// pkg/exchanges/common/ratelimit.go and the exponential-backoff
// calculation in pkg/market/binance/websocket.go's StreamClient,
// generalized from a single venue into a per-venue registry with a
// blocking Acquire instead of a boolean ShouldDelay check.
package ratelimiter

import (
	"context"
	"regexp"
	"sync"
	"time"
)

// Config parameterizes one venue's bucket and backoff behavior.
type Config struct {
	Capacity          int           // max tokens in the bucket
	RefillWindow      time.Duration // time to refill Capacity tokens from empty
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultConfig returns conservative defaults matching the teacher's
// StreamClient.DefaultReconnectConfig shape.
func DefaultConfig() Config {
	return Config{
		Capacity:          10,
		RefillWindow:      time.Second,
		InitialBackoff:    time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// throttlePattern and timeoutPattern are the only place in the engine
// that parses venue error text, per the design note on ad-hoc
// error-text matching. Both are case-insensitive.
var (
	throttlePattern = regexp.MustCompile(`(?i)(rate limit|429|too many requests|throttle)`)
	timeoutPattern  = regexp.MustCompile(`(?i)(timeout|timedout|etimedout)`)
)

// IsThrottleError reports whether err's text matches a throttling signal.
func IsThrottleError(err error) bool {
	return err != nil && throttlePattern.MatchString(err.Error())
}

// IsTimeoutError reports whether err's text matches a timeout signal.
func IsTimeoutError(err error) bool {
	return err != nil && timeoutPattern.MatchString(err.Error())
}

type bucket struct {
	mu            sync.Mutex
	cfg           Config
	tokens        float64
	lastRefill    time.Time
	currentBackoff time.Duration
	backoffUntil  time.Time

	totalRequests     uint64
	throttleErrors    uint64
	inFlightWindowTot uint64
}

// Limiter tracks one token bucket + backoff state per venue.
type Limiter struct {
	mu      sync.Mutex
	venues  map[model_VenueID]*bucket
	cfg     Config
	cfgFor  map[model_VenueID]Config
}

// model_VenueID avoids importing pkg/model here so ratelimiter stays
// dependency-free and reusable outside the trading domain; callers pass
// any comparable key (the venue gateway passes its model.VenueID).
type model_VenueID = string

// New creates a Limiter using cfg as the default for any venue that
// hasn't been given a per-venue override via Configure.
func New(cfg Config) *Limiter {
	return &Limiter{
		venues: make(map[model_VenueID]*bucket),
		cfg:    cfg,
		cfgFor: make(map[model_VenueID]Config),
	}
}

// Configure sets a per-venue override, read the next time that venue's
// bucket is created (existing buckets keep their current config).
func (l *Limiter) Configure(venue string, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfgFor[venue] = cfg
}

func (l *Limiter) bucketFor(venue string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.venues[venue]
	if ok {
		return b
	}
	cfg := l.cfg
	if override, ok := l.cfgFor[venue]; ok {
		cfg = override
	}
	b = &bucket{
		cfg:            cfg,
		tokens:         float64(cfg.Capacity),
		lastRefill:     time.Now(),
		currentBackoff: cfg.InitialBackoff,
	}
	l.venues[venue] = b
	return b
}

func (b *bucket) refillLocked(now time.Time) {
	if b.cfg.RefillWindow <= 0 || b.cfg.Capacity <= 0 {
		return
	}
	elapsed := now.Sub(b.lastRefill)
	toAdd := elapsed.Seconds() / b.cfg.RefillWindow.Seconds() * float64(b.cfg.Capacity)
	if toAdd <= 0 {
		return
	}
	b.tokens += toAdd
	if b.tokens > float64(b.cfg.Capacity) {
		b.tokens = float64(b.cfg.Capacity)
	}
	b.lastRefill = now
}

// nextDeadlineLocked returns the later of "token available" and
// "backoff window elapsed" — the tie-break rule from spec §4.1.
func (b *bucket) nextDeadlineLocked(now time.Time) (time.Time, bool) {
	b.refillLocked(now)

	var tokenReady time.Time
	if b.tokens >= 1 {
		tokenReady = now
	} else if b.cfg.RefillWindow > 0 && b.cfg.Capacity > 0 {
		perToken := b.cfg.RefillWindow / time.Duration(b.cfg.Capacity)
		tokenReady = now.Add(perToken)
	} else {
		tokenReady = now
	}

	backoffReady := now
	if b.backoffUntil.After(now) {
		backoffReady = b.backoffUntil
	}

	deadline := tokenReady
	if backoffReady.After(deadline) {
		deadline = backoffReady
	}
	return deadline, !deadline.After(now)
}

// Acquire blocks until a token is available and the venue is out of its
// backoff window, or until ctx is canceled.
func (l *Limiter) Acquire(ctx context.Context, venue string) error {
	b := l.bucketFor(venue)
	for {
		b.mu.Lock()
		now := time.Now()
		deadline, ready := b.nextDeadlineLocked(now)
		if ready {
			b.tokens -= 1
			b.totalRequests++
			b.mu.Unlock()
			return nil
		}
		wait := deadline.Sub(now)
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// OnThrottled is called when the outbound layer observes a throttling
// signal. The venue enters backoff for currentBackoff, which then grows
// by the configured multiplier, capped at MaxBackoff.
func (l *Limiter) OnThrottled(venue string) {
	b := l.bucketFor(venue)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.throttleErrors++
	b.backoffUntil = time.Now().Add(b.currentBackoff)

	next := time.Duration(float64(b.currentBackoff) * b.cfg.BackoffMultiplier)
	if b.cfg.MaxBackoff > 0 && next > b.cfg.MaxBackoff {
		next = b.cfg.MaxBackoff
	}
	b.currentBackoff = next
}

// OnSuccess resets the backoff state for venue.
func (l *Limiter) OnSuccess(venue string) {
	b := l.bucketFor(venue)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentBackoff = b.cfg.InitialBackoff
	b.backoffUntil = time.Time{}
}

// Stats is the observable state of one venue's limiter.
type Stats struct {
	TotalRequests     uint64
	InFlightWindow    int
	ThrottleErrorCount uint64
	CurrentBackoff    time.Duration
	Throttled         bool
}

// Stats returns the current counters for venue.
func (l *Limiter) Stats(venue string) Stats {
	b := l.bucketFor(venue)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.refillLocked(now)
	return Stats{
		TotalRequests:      b.totalRequests,
		InFlightWindow:     b.cfg.Capacity - int(b.tokens),
		ThrottleErrorCount: b.throttleErrors,
		CurrentBackoff:     b.currentBackoff,
		Throttled:          b.backoffUntil.After(now),
	}
}
