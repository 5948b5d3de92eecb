package history

import (
	"time"

	"github.com/google/uuid"

	"arbitrage-engine/pkg/model"
)

// Store archives terminal TradeLedgerEntry rows into the trade_history
// table, via the batched writer so a burst of trade completions doesn't
// serialize on sqlite one insert at a time.
type Store struct {
	db     *DB
	writer *BatchWriter
}

// NewStore opens path and starts its batch writer.
func NewStore(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:     db,
		writer: NewBatchWriter(db.conn, 25, 2*time.Second),
	}, nil
}

// Archive queues entry for persistence as a new row, keyed by a freshly
// minted id rather than entry.TradeKey: the same tradeKey
// ("{instrument}-{buyVenue}-{sellVenue}") is reused by every arbitrage
// attempt on that venue pair, so using it as the row's identity would
// make each new trade overwrite the previous one's history instead of
// accumulating it. Only terminal entries (completed or failed) belong
// in the audit trail; callers should not archive pending/buyExecuted
// states.
func (s *Store) Archive(entry model.TradeLedgerEntry) {
	var actualProfit any
	if entry.SellResult != nil {
		actualProfit = (entry.SellResult.Cost - entry.SellResult.FeePaid)
		if entry.BuyResult != nil {
			actualProfit = actualProfit.(float64) - (entry.BuyResult.Cost + entry.BuyResult.FeePaid)
		}
	}

	s.writer.WriteQuery(`
		INSERT INTO trade_history (
			id, trade_key, instrument, buy_venue, sell_venue, status,
			buy_price, sell_price, amount, expected_profit_percent, expected_profit_amount,
			actual_profit, failure_note, started_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(), entry.TradeKey, string(entry.Opportunity.Instrument), string(entry.Opportunity.BuyVenue), string(entry.Opportunity.SellVenue), string(entry.Status),
		entry.Opportunity.BuyPrice, entry.Opportunity.SellPrice, entry.Opportunity.Amount, entry.Opportunity.ProfitPercent, entry.Opportunity.ProfitAmount,
		actualProfit, entry.FailureNote, entry.StartedAt, entry.UpdatedAt,
	)
}

// Metrics returns the underlying batch writer's current counters, for
// the operator status surface.
func (s *Store) Metrics() BatchWriterMetrics {
	return s.writer.GetMetrics()
}

// Close flushes any buffered writes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.writer.Close(); err != nil {
		return err
	}
	return s.db.Close()
}
