// Package supervisor implements the Supervisor (C5): the engine's
// top-level lifecycle — initialize every configured venue gateway,
// recover the trade ledger, start the strategy engine, and drive
// graceful shutdown according to the configured drain policy.
//
// Grounded on the teacher's main.go wiring sequence (config -> db ->
// stateMgr.Load -> per-service Start(ctx) -> signal.Notify shutdown)
// and internal/reconciliation/service.go's ticker-driven background
// service shape, generalized from "one process wiring one exchange"
// into "initialize N venue gateways, any of which may fail without
// aborting startup" per spec.md §4.5.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"arbitrage-engine/internal/arbitrage"
	"arbitrage-engine/internal/events"
	"arbitrage-engine/internal/history"
	"arbitrage-engine/internal/ledger"
	"arbitrage-engine/internal/venue"
	"arbitrage-engine/pkg/config"
	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/ratelimiter"
	"arbitrage-engine/pkg/venuedriver"
)

func newDomainLimiter() *ratelimiter.Limiter {
	return ratelimiter.New(ratelimiter.DefaultConfig())
}

// VenueSpec is one configured venue's driver and static capability
// table, assembled by the caller (cmd/arbitrage-engine) from config and
// a venue driver registry before the Supervisor ever sees it.
type VenueSpec struct {
	Venue      model.VenueID
	Driver     venuedriver.Driver
	Depths     venuedriver.AcceptedDepths
	FeeDefault model.TradingFees
}

// Supervisor owns the process lifecycle: construction of the shared
// Gateway/Ledger/Engine, startup recovery, and shutdown draining.
type Supervisor struct {
	cfg     *config.Config
	bus     *events.Bus
	gateway *venue.Gateway
	ledger  *ledger.Ledger
	engine  *arbitrage.Engine
	history *history.Store // optional; nil if audit trail disabled

	initErrors []error
}

// New constructs a Supervisor. ledgerPath and historyPath are the
// on-disk locations from spec.md §6 / SPEC_FULL.md's history addition;
// historyPath may be empty to disable the audit trail.
func New(cfg *config.Config, ledgerPath, historyPath string) (*Supervisor, error) {
	bus := events.NewBus()

	l := ledger.New(ledgerPath)

	var hist *history.Store
	if historyPath != "" {
		var err error
		hist, err = history.NewStore(historyPath)
		if err != nil {
			return nil, fmt.Errorf("supervisor: open history store: %w", err)
		}
	}

	return &Supervisor{
		cfg:     cfg,
		bus:     bus,
		ledger:  l,
		history: hist,
	}, nil
}

// Bus returns the shared event bus, for wiring observers (e.g. the API
// server, or a log-forwarding subscriber) before Run starts.
func (s *Supervisor) Bus() *events.Bus { return s.bus }

// Ledger returns the trade state ledger.
func (s *Supervisor) Ledger() *ledger.Ledger { return s.ledger }

// Gateway returns the venue gateway. Valid only after Initialize.
func (s *Supervisor) Gateway() *venue.Gateway { return s.gateway }

// Engine returns the strategy engine. Valid only after Initialize.
func (s *Supervisor) Engine() *arbitrage.Engine { return s.engine }

// History returns the audit trail store, or nil if historyPath was
// empty at construction.
func (s *Supervisor) History() *history.Store { return s.history }

// InitErrors returns the per-venue initialization failures recorded
// during Initialize. A non-empty result does not prevent startup: each
// failing venue is simply excluded from the running set, per spec.md
// §4.5 ("each may partially fail — record error, continue").
func (s *Supervisor) InitErrors() []error { return s.initErrors }

// Initialize builds the venue gateway from specs (skipping any venue
// whose construction step the caller already flagged as failed),
// recovers the ledger, and reports resumable/orphaned trade counts. It
// does not start streaming or the strategy engine's tick loop — call
// Run for that.
func (s *Supervisor) Initialize(ctx context.Context, engineCfg *arbitrage.Config, specs []VenueSpec) error {
	rl := newDomainLimiter()
	s.gateway = venue.NewGateway(s.bus, rl)

	for _, spec := range specs {
		if spec.Driver == nil {
			err := fmt.Errorf("venue %s: no driver constructed, skipping registration", spec.Venue)
			s.initErrors = append(s.initErrors, err)
			log.Printf("supervisor: %v", err)
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("venue %s: panic during registration: %v", spec.Venue, r)
					s.initErrors = append(s.initErrors, err)
					log.Printf("supervisor: %v", err)
				}
			}()
			s.gateway.AddVenue(venue.HandleConfig{
				Venue:  spec.Venue,
				Driver: spec.Driver,
				Depths: spec.Depths,
			})
			if spec.FeeDefault != (model.TradingFees{}) {
				s.gateway.SetFeeDefault(spec.Venue, spec.FeeDefault)
			}
		}()
	}

	s.gateway.RefreshFees(ctx)
	go s.runFeeRefresh(ctx)

	result, err := s.ledger.Recover()
	if err != nil {
		return fmt.Errorf("supervisor: ledger recover: %w", err)
	}
	log.Printf("supervisor: ledger recovery: %d resumable, %d orphaned trade(s)", len(result.Resumable), len(result.Orphaned))
	for _, orphan := range result.Orphaned {
		log.Printf("supervisor: ORPHANED TRADE requires operator acknowledgment: %s (started %s)",
			orphan.TradeKey, orphan.StartedAt.Format(time.RFC3339))
	}

	engCfg := arbitrage.DefaultConfig()
	if engineCfg != nil {
		engCfg = *engineCfg
	}
	s.engine = arbitrage.NewEngine(engCfg, s.gateway, s.ledger, s.bus)

	return nil
}

// runFeeRefresh re-fetches every venue's fee schedule on the 24h TTL
// boundary, per spec.md §4.3's "subsequently every 24h" cadence.
func (s *Supervisor) runFeeRefresh(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.gateway.RefreshFees(ctx)
		}
	}
}

// Run starts the strategy engine. It returns once subscriptions are
// requested and the scan tick is launched; both continue in the
// background until Shutdown is called.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.engine == nil {
		return fmt.Errorf("supervisor: Run called before Initialize")
	}
	return s.engine.Start(ctx)
}

// Shutdown stops the strategy engine according to cfg.ShutdownBehavior,
// then closes every venue handle and the history store. cancel must be
// the cancellation function for the context Run was given; ShutdownForce
// invokes it immediately instead of waiting on the engine's own drain.
func (s *Supervisor) Shutdown(cancel context.CancelFunc) {
	switch s.cfg.ShutdownBehavior {
	case config.ShutdownForce:
		log.Println("supervisor: shutdown behavior=force, cancelling immediately without drain")
		cancel()
	case config.ShutdownCancel:
		log.Println("supervisor: shutdown behavior=cancel, cancelling open orders before draining")
		s.cancelAllOpenOrders()
		s.engine.Stop()
		cancel()
	case config.ShutdownWait:
		fallthrough
	default:
		log.Println("supervisor: shutdown behavior=wait, draining in-flight trades")
		s.engine.Stop()
		cancel()
	}

	if s.gateway != nil {
		s.gateway.Close()
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			log.Printf("supervisor: close history store: %v", err)
		}
	}
}

// cancelAllOpenOrders best-effort cancels the buy leg of any trade
// whose buy order has been submitted but the trade hasn't reached a
// terminal state. This engine only ever submits market orders
// (limit-order strategies are a non-goal), which normally resolve
// synchronously; this exists for a venue driver that can leave a
// market order resting briefly (e.g. marketable-limit fallback), not
// for the common case.
func (s *Supervisor) cancelAllOpenOrders() {
	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	for key, entry := range s.ledger.Active() {
		if entry.Status != model.StatusBuyExecuted || entry.BuyResult == nil {
			continue
		}
		venueOrderID := entry.BuyResult.VenueOrderID
		if venueOrderID == "" {
			continue
		}
		if err := s.gateway.CancelOrder(ctx, entry.Opportunity.BuyVenue, venueOrderID, entry.Opportunity.Instrument); err != nil {
			log.Printf("supervisor: cancel open order for %s: %v", key, err)
		}
	}
}

// ArchiveTerminal is a convenience the caller wires as a subscriber to
// events.EventExecutionCompleted if it wants every terminal ledger entry
// mirrored into the audit trail. Supervisor itself does not subscribe
// automatically, since not every deployment enables history.
func (s *Supervisor) ArchiveTerminal(entry model.TradeLedgerEntry) {
	if s.history == nil {
		return
	}
	s.history.Archive(entry)
}
