// Package history is the append-only audit trail of terminal trade
// attempts: every completed or failed TradeLedgerEntry the ledger
// produces is archived here for after-the-fact analysis, independent
// of the ledger's own crash-recovery role.
//
// Grounded on the teacher's pkg/db (sqlite.Open + schema migration) and
// internal/persistence/batch_writer.go (now moved into this package),
// trimmed from the teacher's multi-user trading schema down to a single
// trade_history table — this engine has no per-user accounts.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite handle backing the audit trail.
type DB struct {
	conn *sql.DB
}

// Open creates (if needed) and migrates the sqlite database at path.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("history: database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: migrate schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close releases the underlying handle.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
