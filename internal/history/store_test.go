package history

import (
	"path/filepath"
	"testing"
	"time"

	"arbitrage-engine/pkg/model"
)

// TestArchiveAccumulatesByTradeKey verifies the audit trail is genuinely
// append-only: the same tradeKey ("{instrument}-{buyVenue}-{sellVenue}")
// is reused by every arbitrage attempt on that venue pair, so archiving
// two terminal entries for it must produce two rows, not one upserted row.
func TestArchiveAccumulatesByTradeKey(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	entry := model.TradeLedgerEntry{
		TradeKey: "BTC/USD-alpha-beta",
		Opportunity: model.Opportunity{
			Instrument: "BTC/USD", BuyVenue: "alpha", SellVenue: "beta",
			BuyPrice: 100, SellPrice: 102, Amount: 1, ProfitPercent: 1.5, ProfitAmount: 1.5,
		},
		Status:    model.StatusCompleted,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	store.Archive(entry)
	store.Archive(entry)
	if err := store.writer.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var count int
	if err := store.db.conn.QueryRow("SELECT COUNT(*) FROM trade_history WHERE trade_key = ?", entry.TradeKey).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two accumulated rows for the same trade key, got %d", count)
	}
}
