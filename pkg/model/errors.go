package model

import "errors"

// Sentinel error kinds from the engine's error-handling design. Callers
// match with errors.Is; wrapping with %w keeps the underlying venue
// error text available for logging and the timeout/throttle pattern match.
var (
	// ErrConfig marks a fatal configuration or initialization error.
	ErrConfig = errors.New("config error")

	// ErrTransientVenue marks a network/timeout/throttling error that
	// should trigger rate-limit backoff or venue reconnection.
	ErrTransientVenue = errors.New("transient venue error")

	// ErrPermanentVenue marks a venue error that is not a throttle or
	// timeout (authentication, unknown instrument, a missing capability);
	// the venue is not removed from later scans.
	ErrPermanentVenue = errors.New("permanent venue error")

	// ErrInvariantViolation marks a condition the engine must never
	// produce, e.g. a sell attempted with no successful prior buy.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrBalanceRace labels a pre-submission balance check that could
	// not complete because a venue balance fetch failed.
	ErrBalanceRace = errors.New("balance race")

	// ErrStaleBook marks a book older than the staleness threshold.
	ErrStaleBook = errors.New("stale order book")

	// ErrPartialFillRejected marks a buy fill below the partial-fill
	// threshold; the position is stranded and needs operator attention.
	ErrPartialFillRejected = errors.New("partial fill rejected")

	// ErrTradeKeyLocked marks a concurrent attempt on a tradeKey already in flight.
	ErrTradeKeyLocked = errors.New("trade key already active")
)
