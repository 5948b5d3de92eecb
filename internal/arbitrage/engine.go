// Package arbitrage implements the Arbitrage Strategy Engine (C4): the
// per-tick opportunity scan, the execution gate, and the two-leg
// buy-then-sell trade execution.
//
// Grounded on the teacher's internal/risk.Manager for its config +
// gating + metrics shape (QuickCheck before the full evaluation, a
// bounded telemetry window, a single mutex-guarded state block) and on
// internal/strategy/engine.go for the tick-driven scan loop, generalized
// from "evaluate one strategy's signal against risk limits" into "scan
// every configured instrument for a cross-venue dislocation and gate
// its execution."
package arbitrage

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbitrage-engine/internal/events"
	"arbitrage-engine/internal/ledger"
	"arbitrage-engine/internal/venue"
	"arbitrage-engine/pkg/model"
)

// Engine is the C4 Arbitrage Strategy Engine.
type Engine struct {
	cfg     Config
	gateway *venue.Gateway
	ledger  *ledger.Ledger
	bus     *events.Bus

	// mu guards activeTrades. Every access is a single non-yielding
	// critical section: no I/O, no channel send, while held.
	mu           sync.Mutex
	activeTrades map[string]struct{}

	variance *varianceHistory

	// execCtx is the context Start was given, set once before the tick
	// loop or any trade goroutine can observe it. execute derives its
	// network-call timeouts from this, not context.Background(), so a
	// force shutdown's outer cancellation actually reaches in-flight
	// order submissions. Stop instead cancels a child of execCtx (see
	// cancel below) to halt scanning and streaming; that cancellation
	// must NOT also abort trades already dispatched, since the
	// wait/cancel drain paths rely on tradeWg.Wait() to let them finish
	// on their own.
	execCtx context.Context
	cancel  context.CancelFunc
	tickWg  sync.WaitGroup
	tradeWg sync.WaitGroup
}

// NewEngine wires an Engine around its dependencies.
func NewEngine(cfg Config, gw *venue.Gateway, l *ledger.Ledger, bus *events.Bus) *Engine {
	return &Engine{
		cfg:          cfg,
		gateway:      gw,
		ledger:       l,
		bus:          bus,
		activeTrades: make(map[string]struct{}),
		variance:     newVarianceHistory(cfg.MaxVarianceHistory),
	}
}

// Start subscribes every configured instrument on every registered
// venue and launches the periodic scan tick. It returns once
// subscriptions are requested; streaming and scanning continue in the
// background until Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	tickCtx, cancel := context.WithCancel(ctx)
	e.execCtx = ctx
	e.cancel = cancel

	depth := 10
	for _, instrument := range e.cfg.Instruments {
		for _, v := range e.gateway.Venues() {
			if err := e.gateway.Subscribe(tickCtx, v, instrument, depth); err != nil {
				log.Printf("arbitrage: subscribe %s on %s failed: %v", instrument, v, err)
			}
		}
	}

	e.tickWg.Add(1)
	go e.tickLoop(tickCtx)
	return nil
}

func (e *Engine) tickLoop(ctx context.Context) {
	defer e.tickWg.Done()

	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, instrument := range e.cfg.Instruments {
				e.scanTick(ctx, instrument)
			}
		}
	}
}

// Stop halts the tick loop and waits up to DrainTimeout for in-flight
// trades to settle, logging a warning for any still outstanding.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.tickWg.Wait()

	done := make(chan struct{})
	go func() {
		e.tradeWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.cfg.DrainTimeout):
		remaining := e.activeCount()
		if remaining > 0 {
			log.Printf("arbitrage: stop drain timed out with %d trade(s) still in flight", remaining)
		}
	}
}

// scanTick gathers the latest books for instrument across every venue,
// derives candidate opportunities, and spawns execution for the ones
// that pass shouldExecute, in descending profit order.
func (e *Engine) scanTick(ctx context.Context, instrument model.Instrument) {
	books := e.gateway.LatestBooks(instrument)
	if len(books) < 2 {
		return
	}

	venues := make([]model.VenueID, 0, len(books))
	for v := range books {
		venues = append(venues, v)
	}

	var candidates []model.Opportunity
	for i := range venues {
		for j := range venues {
			if i == j {
				continue
			}
			buyVenue, sellVenue := venues[i], venues[j]
			opp, ok := e.buildOpportunity(books[buyVenue], books[sellVenue])
			if !ok {
				continue
			}
			candidates = append(candidates, opp)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ProfitPercent > candidates[j].ProfitPercent
	})

	for _, opp := range candidates {
		e.bus.Publish(events.EventOpportunityFound, opp)
		tradeKey, ok := e.shouldExecute(ctx, opp)
		if !ok {
			continue
		}
		e.tradeWg.Add(1)
		go func(o model.Opportunity, key string) {
			defer e.tradeWg.Done()
			e.execute(e.execCtx, o, key)
		}(opp, tradeKey)
	}
}

// buildOpportunity computes the candidate trade for buying on buyBook's
// venue and selling on sellBook's venue, or (zero, false) if the books
// can't support a profitable pair.
func (e *Engine) buildOpportunity(buyBook, sellBook model.OrderBookSnapshot) (model.Opportunity, bool) {
	ask, ok := buyBook.BestAsk()
	if !ok {
		return model.Opportunity{}, false
	}
	bid, ok := sellBook.BestBid()
	if !ok {
		return model.Opportunity{}, false
	}
	if bid.Price <= ask.Price {
		return model.Opportunity{}, false
	}

	amount := ask.Amount
	if bid.Amount < amount {
		amount = bid.Amount
	}
	if e.cfg.MaxTradeAmount > 0 && e.cfg.MaxTradeAmount < amount {
		amount = e.cfg.MaxTradeAmount
	}
	if amount <= 0 {
		return model.Opportunity{}, false
	}

	buyFees := e.gateway.Fees(buyBook.Venue, buyBook.Instrument)
	sellFees := e.gateway.Fees(sellBook.Venue, sellBook.Instrument)

	buyCost := amount * ask.Price
	sellProceeds := amount * bid.Price
	buyFee := buyCost * buyFees.TakerRate
	sellFee := sellProceeds * sellFees.TakerRate

	profitAmount := (sellProceeds - buyCost) - buyFee - sellFee
	profitPercent := profitAmount / buyCost * 100
	if profitPercent < e.cfg.MinProfitPercent {
		return model.Opportunity{}, false
	}

	timestamp := buyBook.VenueTimestamp
	if sellBook.VenueTimestamp.Before(timestamp) {
		timestamp = sellBook.VenueTimestamp
	}

	return model.Opportunity{
		Instrument:    buyBook.Instrument,
		BuyVenue:      buyBook.Venue,
		SellVenue:     sellBook.Venue,
		BuyPrice:      ask.Price,
		SellPrice:     bid.Price,
		Amount:        amount,
		ProfitPercent: profitPercent,
		ProfitAmount:  profitAmount,
		Timestamp:     timestamp,
		Fees:          model.FeeBreakdown{BuyFee: buyFee, SellFee: sellFee, Total: buyFee + sellFee},
	}, true
}

// shouldExecute is the gating sequence of candidate-to-trade promotion.
// Every false return short-circuits the remaining checks. On success,
// the tradeKey lock is held by the returned key and must be released by
// the caller (directly, or via execute's deferred cleanup).
func (e *Engine) shouldExecute(ctx context.Context, opp model.Opportunity) (string, bool) {
	if e.activeCount() >= e.cfg.MaxConcurrentTrades {
		return "", false
	}
	if !e.validateOpportunity(opp) {
		return "", false
	}

	tradeKey := model.TradeKey(opp.Instrument, opp.BuyVenue, opp.SellVenue)
	if !e.acquireTradeKey(tradeKey) {
		log.Printf("arbitrage: %v: %s", model.ErrTradeKeyLocked, tradeKey)
		return "", false
	}

	if !e.checkBalances(ctx, opp, tradeKey) {
		e.releaseTradeKey(tradeKey)
		return "", false
	}

	if !e.validateCurrentPrices(ctx, opp) {
		e.releaseTradeKey(tradeKey)
		return "", false
	}

	return tradeKey, true
}

// validateOpportunity rejects stale, skewed, or economically void candidates.
func (e *Engine) validateOpportunity(opp model.Opportunity) bool {
	age := time.Since(opp.Timestamp)
	if age > 5*time.Second {
		return false
	}
	if age < 0 {
		log.Printf("arbitrage: opportunity %s/%s/%s has a future timestamp, clock skew suspected",
			opp.Instrument, opp.BuyVenue, opp.SellVenue)
		return false
	}
	if opp.ProfitAmount <= 0 || opp.Amount <= 0 || opp.BuyPrice <= 0 || opp.SellPrice <= 0 {
		return false
	}
	if opp.Amount < e.cfg.MinTradeAmount(opp.Instrument) {
		return false
	}
	return true
}

// activeCount reads the size of activeTrades under the same lock used
// to mutate it.
func (e *Engine) activeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.activeTrades)
}

// acquireTradeKey is the single non-yielding check-and-insert critical
// section that fences two ticks from racing on the same tradeKey.
func (e *Engine) acquireTradeKey(tradeKey string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.activeTrades[tradeKey]; exists {
		return false
	}
	e.activeTrades[tradeKey] = struct{}{}
	return true
}

func (e *Engine) releaseTradeKey(tradeKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.activeTrades, tradeKey)
}

// checkBalances requires enough free (minus reserved) balance on both
// legs to cover the trade, padded by ReservePercent on the buy leg.
func (e *Engine) checkBalances(ctx context.Context, opp model.Opportunity, tradeKey string) bool {
	requiredQuote := opp.BuyPrice * opp.Amount * (1 + e.cfg.ReservePercent)
	availQuote, err := e.gateway.AvailableBalance(ctx, opp.BuyVenue, opp.Instrument.Quote(), tradeKey)
	if err != nil {
		log.Printf("arbitrage: %v: check balances: %v", model.ErrBalanceRace, err)
		return false
	}
	if availQuote < requiredQuote {
		return false
	}

	availBase, err := e.gateway.AvailableBalance(ctx, opp.SellVenue, opp.Instrument.Base(), tradeKey)
	if err != nil {
		log.Printf("arbitrage: %v: check balances: %v", model.ErrBalanceRace, err)
		return false
	}
	return availBase >= opp.Amount
}

// validateCurrentPrices re-fetches both books and rejects the
// opportunity if the market has moved past tolerance, recording
// variance telemetry regardless of the outcome.
func (e *Engine) validateCurrentPrices(ctx context.Context, opp model.Opportunity) bool {
	buyBook, err := e.gateway.FetchOrderBook(ctx, opp.BuyVenue, opp.Instrument, 10)
	if err != nil {
		log.Printf("arbitrage: validate current prices: fetch buy book: %v", err)
		return false
	}
	sellBook, err := e.gateway.FetchOrderBook(ctx, opp.SellVenue, opp.Instrument, 10)
	if err != nil {
		log.Printf("arbitrage: validate current prices: fetch sell book: %v", err)
		return false
	}

	if age := buyBook.Age(time.Now()); age > e.cfg.StalenessThreshold {
		log.Printf("arbitrage: %v: %s buy book age %s exceeds %s", model.ErrStaleBook, opp.BuyVenue, age, e.cfg.StalenessThreshold)
		return false
	}
	if age := sellBook.Age(time.Now()); age > e.cfg.StalenessThreshold {
		log.Printf("arbitrage: %v: %s sell book age %s exceeds %s", model.ErrStaleBook, opp.SellVenue, age, e.cfg.StalenessThreshold)
		return false
	}

	currentAsk, ok := buyBook.BestAsk()
	if !ok {
		return false
	}
	currentBid, ok := sellBook.BestBid()
	if !ok {
		return false
	}

	buyVariance := (currentAsk.Price - opp.BuyPrice) / opp.BuyPrice * 100
	sellVariance := (opp.SellPrice - currentBid.Price) / opp.SellPrice * 100
	totalVariance := buyVariance + sellVariance

	e.variance.record(varianceSample{
		BuyVariance:   buyVariance,
		SellVariance:  sellVariance,
		TotalVariance: totalVariance,
		ProfitPercent: opp.ProfitPercent,
		RecordedAt:    time.Now(),
	})

	if buyVariance > e.cfg.PriceTolerancePercent || sellVariance > e.cfg.PriceTolerancePercent {
		return false
	}

	if e.cfg.DynamicToleranceEnabled && totalVariance > 0 && opp.ProfitPercent != 0 {
		erosion := totalVariance / opp.ProfitPercent * 100
		if erosion > e.cfg.MaxProfitErosionPercent {
			return false
		}
	}

	if buyBook.SlippagePercent(opp.Amount, model.SideBuy) > e.cfg.MaxSlippagePercent {
		return false
	}
	if sellBook.SlippagePercent(opp.Amount, model.SideSell) > e.cfg.MaxSlippagePercent {
		return false
	}

	return true
}

// Telemetry exposes the engine's variance history summary.
func (e *Engine) Telemetry() VarianceTelemetry {
	return e.variance.telemetry()
}

// execute runs the two-leg trade for opp under tradeKey's lock,
// guaranteeing the lock and any balance reservations are released no
// matter how it concludes.
func (e *Engine) execute(ctx context.Context, opp model.Opportunity, tradeKey string) {
	defer func() {
		e.gateway.Release(tradeKey)
		e.releaseTradeKey(tradeKey)
	}()

	e.bus.Publish(events.EventExecutionStarted, tradeKey)

	if !e.checkBalances(ctx, opp, tradeKey) {
		log.Printf("arbitrage: execute %s: balances changed since gating, aborting before reservation", tradeKey)
		return
	}

	e.gateway.Reserve(tradeKey, opp.BuyVenue, opp.Instrument.Quote(), opp.BuyPrice*opp.Amount*(1+e.cfg.ReservePercent))
	e.gateway.Reserve(tradeKey, opp.SellVenue, opp.Instrument.Base(), opp.Amount)

	if _, err := e.ledger.RecordStart(opp); err != nil {
		log.Printf("arbitrage: execute %s: record start: %v", tradeKey, err)
		return
	}

	buyReq := model.OrderRequest{
		Venue:         opp.BuyVenue,
		Instrument:    opp.Instrument,
		Side:          model.SideBuy,
		Amount:        opp.Amount,
		Type:          model.OrderTypeMarket,
		Price:         opp.BuyPrice,
		ClientOrderID: uuid.NewString(),
	}

	buyCtx, buyCancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	buyResult, err := e.gateway.ExecuteTrade(buyCtx, buyReq)
	buyCancel()
	if err != nil {
		e.recordFailure(tradeKey, fmt.Sprintf("buy leg failed: %v", err))
		return
	}

	fillPercent := buyResult.FillPercent()
	if fillPercent < e.cfg.PartialFillThresholdPercent {
		e.recordFailure(tradeKey, fmt.Sprintf(
			"%v: buy leg only %.1f%% filled (threshold %.1f%%), manual intervention may be required to unwind the position",
			model.ErrPartialFillRejected, fillPercent, e.cfg.PartialFillThresholdPercent))
		return
	}

	sellAmount := opp.Amount
	if buyResult.FilledAmount < sellAmount {
		sellAmount = buyResult.FilledAmount
	}
	if sellAmount <= 0 {
		e.recordFailure(tradeKey, fmt.Sprintf("%v: buy leg reported success with zero filled amount", model.ErrInvariantViolation))
		return
	}

	if err := e.ledger.RecordBuyExecuted(tradeKey, buyResult); err != nil {
		log.Printf("arbitrage: execute %s: record buy executed: %v", tradeKey, err)
	}

	sellReq := model.OrderRequest{
		Venue:         opp.SellVenue,
		Instrument:    opp.Instrument,
		Side:          model.SideSell,
		Amount:        sellAmount,
		Type:          model.OrderTypeMarket,
		Price:         opp.SellPrice,
		ClientOrderID: uuid.NewString(),
	}

	sellCtx, sellCancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	sellResult, err := e.gateway.ExecuteTrade(sellCtx, sellReq)
	sellCancel()
	if err != nil {
		log.Printf("arbitrage: execute %s: SELL LEG FAILED AFTER BUY SUCCEEDED — position mismatch, operator attention required: %v", tradeKey, err)
		e.recordFailure(tradeKey, fmt.Sprintf("sell leg failed after buy succeeded (position mismatch): %v", err))
		return
	}

	actualProfit := (sellResult.Cost - sellResult.FeePaid) - (buyResult.Cost + buyResult.FeePaid)
	entry, err := e.ledger.RecordComplete(tradeKey, true, &sellResult, "")
	if err != nil {
		log.Printf("arbitrage: execute %s: record complete: %v", tradeKey, err)
	}
	e.bus.Publish(events.EventExecutionCompleted, entry)
	log.Printf("arbitrage: %s completed, actual profit %.6f %s", tradeKey, actualProfit, opp.Instrument.Quote())
}

func (e *Engine) recordFailure(tradeKey, note string) {
	entry, err := e.ledger.RecordComplete(tradeKey, false, nil, note)
	if err != nil {
		log.Printf("arbitrage: execute %s: record failure: %v", tradeKey, err)
	}
	e.bus.Publish(events.EventExecutionCompleted, entry)
	log.Printf("arbitrage: %s failed: %s", tradeKey, note)
}
