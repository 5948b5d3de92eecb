package history

import (
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// WriteOp is one queued INSERT against the trade_history table.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter amortizes trade_history writes: Archive calls queue a
// WriteOp instead of hitting sqlite synchronously on every trade
// completion, and a background goroutine flushes on size or interval,
// whichever comes first.
type BatchWriter struct {
	db          *sql.DB
	buffer      []WriteOp
	mu          sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	wg          sync.WaitGroup
	metrics     BatchWriterMetrics
}

// BatchWriterMetrics summarizes trade_history batch activity for the
// operator status surface (folded into GET /status alongside
// Gateway.RateLimiterStats).
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"totalWrites"`
	TotalBatches  uint64    `json:"totalBatches"`
	TotalErrors   uint64    `json:"totalErrors"`
	LastBatchSize int       `json:"lastBatchSize"`
	LastFlushTime time.Time `json:"lastFlushTime"`
}

// NewBatchWriter creates a batch writer over db. maxSize is the number
// of queued trade archivals that forces an immediate flush; interval is
// the background flush cadence applied regardless of buffer size.
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter{
		db:          db,
		buffer:      make([]WriteOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// Write queues op, flushing immediately if the buffer has reached maxSize.
func (bw *BatchWriter) Write(op WriteOp) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, op)
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		bw.Flush()
	}
}

// WriteQuery is a convenience wrapper around Write for a raw query plus args.
func (bw *BatchWriter) WriteQuery(query string, args ...any) {
	bw.Write(WriteOp{Query: query, Args: args})
}

// Flush immediately writes every buffered operation to the database.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}

	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.executeBatch(ops)
}

// executeBatch runs a batch of trade_history inserts in one transaction.
func (bw *BatchWriter) executeBatch(ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}

	atomic.AddUint64(&bw.metrics.TotalWrites, uint64(len(ops)))
	atomic.AddUint64(&bw.metrics.TotalBatches, 1)
	bw.metrics.LastBatchSize = len(ops)
	bw.metrics.LastFlushTime = time.Now()

	tx, err := bw.db.Begin()
	if err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		log.Printf("history: batch writer failed to begin transaction: %v", err)
		return err
	}

	for _, op := range ops {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			tx.Rollback()
			atomic.AddUint64(&bw.metrics.TotalErrors, 1)
			log.Printf("history: batch insert failed, rolling back %d queued trade_history row(s): %v", len(ops), err)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		log.Printf("history: batch writer commit failed: %v", err)
		return err
	}

	log.Printf("history: archived %d trade(s) to trade_history", len(ops))
	return nil
}

// backgroundFlush periodically flushes the buffer until Close.
func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(); err != nil {
				log.Printf("history: background flush error: %v", err)
			}
		case <-bw.done:
			if err := bw.Flush(); err != nil {
				log.Printf("history: final flush before close error: %v", err)
			}
			return
		}
	}
}

// Pending returns the number of queued-but-unflushed operations.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns a snapshot of the batch writer's counters.
func (bw *BatchWriter) GetMetrics() BatchWriterMetrics {
	return BatchWriterMetrics{
		TotalWrites:   atomic.LoadUint64(&bw.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&bw.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&bw.metrics.TotalErrors),
		LastBatchSize: bw.metrics.LastBatchSize,
		LastFlushTime: bw.metrics.LastFlushTime,
	}
}

// Close flushes any pending writes and stops the background goroutine.
func (bw *BatchWriter) Close() error {
	close(bw.done)
	bw.wg.Wait()
	return nil
}
