package history

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS trade_history (
    id TEXT PRIMARY KEY,
    trade_key TEXT NOT NULL,
    instrument TEXT NOT NULL,
    buy_venue TEXT NOT NULL,
    sell_venue TEXT NOT NULL,
    status TEXT NOT NULL,
    buy_price REAL NOT NULL,
    sell_price REAL NOT NULL,
    amount REAL NOT NULL,
    expected_profit_percent REAL NOT NULL,
    expected_profit_amount REAL NOT NULL,
    actual_profit REAL,
    failure_note TEXT,
    started_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trade_history_instrument ON trade_history(instrument);
CREATE INDEX IF NOT EXISTS idx_trade_history_status ON trade_history(status);
CREATE INDEX IF NOT EXISTS idx_trade_history_trade_key ON trade_history(trade_key);
`
