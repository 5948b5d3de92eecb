// Package ledger implements the Trade State Ledger (C2): a
// crash-consistent mapping from tradeKey to TradeLedgerEntry, persisted
// as a single JSON document and replaced atomically on every mutation.
//
// It is grounded on the teacher's internal/order/persistent_queue.go,
// which already solves "durable record of in-flight work, recovered on
// restart" for its order queue via a write-ahead log. Spec.md's storage
// contract (§6) calls for a single JSON document rather than an
// append-only log, so the write path here borrows the teacher's
// write-temp-then-fsync-then-rename sequence (PersistentQueue.compactWAL)
// instead of its line-oriented WAL.
package ledger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"arbitrage-engine/pkg/model"
)

const currentVersion = 1

// document is the on-disk shape described in spec.md §6.
type document struct {
	Version      int                                 `json:"version"`
	LastUpdated  int64                                `json:"lastUpdated"`
	ActiveTrades map[string]model.TradeLedgerEntry     `json:"activeTrades"`
}

// Ledger is the durable in-flight trade store. All mutating operations
// fsync before returning, per spec.md §4.2's failure semantics: a write
// failure must propagate as fatal to the caller's order-submission path.
type Ledger struct {
	mu            sync.Mutex
	path          string
	active        map[string]model.TradeLedgerEntry
	orphaned      map[string]model.TradeLedgerEntry
	orphanAfter   time.Duration
}

// Option configures a Ledger at construction time.
type Option func(*Ledger)

// WithOrphanThreshold overrides the default 24h orphan-detection age.
func WithOrphanThreshold(d time.Duration) Option {
	return func(l *Ledger) { l.orphanAfter = d }
}

// New returns a Ledger backed by the file at path without touching the
// file; the first write creates it, and Recover loads it.
func New(path string, opts ...Option) *Ledger {
	l := &Ledger{
		path:        path,
		active:      make(map[string]model.TradeLedgerEntry),
		orphaned:    make(map[string]model.TradeLedgerEntry),
		orphanAfter: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecoverResult is the output of a startup Recover call.
type RecoverResult struct {
	Resumable []model.TradeLedgerEntry
	Orphaned  []model.TradeLedgerEntry
}

// Recover loads the ledger file (if any) and splits entries into
// resumable and orphaned sets by age. Orphans are reported but never
// auto-removed; an operator must call AcknowledgeOrphan.
func (l *Ledger) Recover() (RecoverResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return RecoverResult{}, nil
		}
		return RecoverResult{}, fmt.Errorf("read ledger file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return RecoverResult{}, fmt.Errorf("parse ledger file: %w", err)
	}
	if doc.Version != currentVersion {
		// Unknown version: start empty, log it, keep the file on disk.
		log.Printf("ledger: %s has unknown version %d, starting empty (file left on disk)", l.path, doc.Version)
		return RecoverResult{}, nil
	}

	now := time.Now()
	var res RecoverResult
	for key, entry := range doc.ActiveTrades {
		if now.Sub(entry.StartedAt) > l.orphanAfter {
			l.orphaned[key] = entry
			res.Orphaned = append(res.Orphaned, entry)
			continue
		}
		l.active[key] = entry
		res.Resumable = append(res.Resumable, entry)
	}
	return res, nil
}

// RecordStart creates a pending entry for opportunity and fsyncs it to
// disk before returning. The returned tradeKey is
// "{instrument}-{buyVenue}-{sellVenue}".
func (l *Ledger) RecordStart(opp model.Opportunity) (string, error) {
	key := model.TradeKey(opp.Instrument, opp.BuyVenue, opp.SellVenue)
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.active[key] = model.TradeLedgerEntry{
		TradeKey:    key,
		Opportunity: opp,
		Status:      model.StatusPending,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.persistLocked(); err != nil {
		delete(l.active, key)
		return "", fmt.Errorf("record trade start: %w", err)
	}
	return key, nil
}

// RecordBuyExecuted transitions tradeKey to buyExecuted and fsyncs.
func (l *Ledger) RecordBuyExecuted(tradeKey string, buy model.OrderResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.active[tradeKey]
	if !ok {
		return fmt.Errorf("record buy executed: unknown trade key %q", tradeKey)
	}
	entry.Status = model.StatusBuyExecuted
	entry.BuyResult = &buy
	entry.UpdatedAt = time.Now()
	l.active[tradeKey] = entry

	if err := l.persistLocked(); err != nil {
		return fmt.Errorf("record buy executed: %w", err)
	}
	return nil
}

// RecordComplete transitions tradeKey to completed or failed, removes
// it from the active set, and fsyncs. It returns the final entry so
// callers (e.g. the history audit trail) can archive it.
func (l *Ledger) RecordComplete(tradeKey string, success bool, sell *model.OrderResult, failureNote string) (model.TradeLedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.active[tradeKey]
	if !ok {
		return model.TradeLedgerEntry{}, fmt.Errorf("record complete: unknown trade key %q", tradeKey)
	}
	if success {
		entry.Status = model.StatusCompleted
	} else {
		entry.Status = model.StatusFailed
		entry.FailureNote = failureNote
	}
	entry.SellResult = sell
	entry.UpdatedAt = time.Now()

	delete(l.active, tradeKey)
	if err := l.persistLocked(); err != nil {
		// Restore in-memory state so a retry of RecordComplete is possible.
		l.active[tradeKey] = entry
		return model.TradeLedgerEntry{}, fmt.Errorf("record complete: %w", err)
	}
	return entry, nil
}

// AcknowledgeOrphan removes tradeKey from the orphan set after human
// inspection and fsyncs the result. Until this call, an orphan stays in
// the persisted document and is re-reported as an orphan on every
// restart; this is the only path that drops it from disk.
func (l *Ledger) AcknowledgeOrphan(tradeKey string) (model.TradeLedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.orphaned[tradeKey]
	if !ok {
		return entry, false
	}
	delete(l.orphaned, tradeKey)
	if err := l.persistLocked(); err != nil {
		l.orphaned[tradeKey] = entry
		return model.TradeLedgerEntry{}, false
	}
	return entry, true
}

// Orphans returns a snapshot of the currently unacknowledged orphans.
func (l *Ledger) Orphans() []model.TradeLedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.TradeLedgerEntry, 0, len(l.orphaned))
	for _, e := range l.orphaned {
		out = append(out, e)
	}
	return out
}

// ActiveCount returns the number of entries in {pending, buyExecuted}.
func (l *Ledger) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Active returns a snapshot of the active set, keyed by tradeKey.
func (l *Ledger) Active() map[string]model.TradeLedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]model.TradeLedgerEntry, len(l.active))
	for k, v := range l.active {
		out[k] = v
	}
	return out
}

// persistLocked must be called with l.mu held. It writes the full
// document to a temp file in the same directory, fsyncs it, then
// renames over the target path — the same write-temp-then-rename
// sequence as the teacher's WAL compaction, generalized from an
// append log to a full-document snapshot.
func (l *Ledger) persistLocked() error {
	onDisk := make(map[string]model.TradeLedgerEntry, len(l.active)+len(l.orphaned))
	for k, v := range l.active {
		onDisk[k] = v
	}
	for k, v := range l.orphaned {
		onDisk[k] = v
	}

	doc := document{
		Version:      currentVersion,
		LastUpdated:  time.Now().UnixMilli(),
		ActiveTrades: onDisk,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger document: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp ledger file: %w", err)
	}
	return nil
}
