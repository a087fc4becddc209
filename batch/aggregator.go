package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	docex "github.com/tommyGPT2S/DocEX-sub002"
	"github.com/tommyGPT2S/DocEX-sub002/id"
)

// ProcessFunc handles one flushed batch, returning one result per item
// in input order.
type ProcessFunc[T, R any] func(ctx context.Context, items []T) ([]R, error)

type settings struct {
	batchSize int
	maxWait   time.Duration
	logger    *slog.Logger
}

// Option configures an Aggregator.
type Option func(*settings)

// WithBatchSize sets the item count that triggers an immediate flush.
func WithBatchSize(n int) Option {
	return func(s *settings) { s.batchSize = n }
}

// WithMaxWait sets how long a partial batch may wait before flushing.
func WithMaxWait(d time.Duration) Option {
	return func(s *settings) { s.maxWait = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

type batchIDKey struct{}

// BatchIDFromContext returns the ID of the batch being processed. It is
// set on the context handed to ProcessFunc, so processors can correlate
// logs and downstream records per flush.
func BatchIDFromContext(ctx context.Context) (id.BatchID, bool) {
	b, ok := ctx.Value(batchIDKey{}).(id.BatchID)
	return b, ok
}

// waiter is one pending Add call and its reply channel.
type waiter[R any] struct {
	ch chan outcome[R]
}

type outcome[R any] struct {
	result R
	err    error
}

// Aggregator coalesces individual Add calls into batched ProcessFunc
// invocations. A batch flushes when it reaches the configured size or
// when the oldest item has waited maxWait, whichever comes first.
// Flushes are serialized: only one ProcessFunc call runs at a time.
type Aggregator[T, R any] struct {
	process   ProcessFunc[T, R]
	batchSize int
	maxWait   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	items   []T
	waiters []waiter[R]
	timer   *time.Timer
	closed  bool

	// flushMu serializes ProcessFunc invocations.
	flushMu sync.Mutex
}

// New creates an aggregator around process.
func New[T, R any](process ProcessFunc[T, R], opts ...Option) *Aggregator[T, R] {
	s := settings{
		batchSize: 10,
		maxWait:   100 * time.Millisecond,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Aggregator[T, R]{
		process:   process,
		batchSize: s.batchSize,
		maxWait:   s.maxWait,
		logger:    s.logger,
	}
}

// Add queues one item and blocks until its batch has been processed,
// returning the result positioned for this item. A ProcessFunc error is
// returned identically to every caller in the batch. Cancelling ctx
// abandons the wait; the item is still processed with its batch.
func (a *Aggregator[T, R]) Add(ctx context.Context, item T) (R, error) {
	var zero R

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return zero, docex.ErrAggregatorClosed
	}

	w := waiter[R]{ch: make(chan outcome[R], 1)}
	a.items = append(a.items, item)
	a.waiters = append(a.waiters, w)

	if len(a.items) >= a.batchSize {
		items, waiters := a.takeLocked()
		a.mu.Unlock()
		go a.flush(items, waiters)
	} else {
		if len(a.items) == 1 {
			a.timer = time.AfterFunc(a.maxWait, a.flushDue)
		}
		a.mu.Unlock()
	}

	select {
	case out := <-w.ch:
		return out.result, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close flushes any partial batch and rejects further Add calls.
func (a *Aggregator[T, R]) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	items, waiters := a.takeLocked()
	a.mu.Unlock()

	if len(items) > 0 {
		a.flush(items, waiters)
	}
	return nil
}

// flushDue fires when the oldest pending item has waited maxWait.
func (a *Aggregator[T, R]) flushDue() {
	a.mu.Lock()
	items, waiters := a.takeLocked()
	a.mu.Unlock()

	if len(items) > 0 {
		a.flush(items, waiters)
	}
}

// takeLocked detaches the accumulating batch and stops its timer.
// Caller holds mu.
func (a *Aggregator[T, R]) takeLocked() ([]T, []waiter[R]) {
	items, waiters := a.items, a.waiters
	a.items = nil
	a.waiters = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	return items, waiters
}

// flush runs one batch through ProcessFunc and fans results back to the
// callers in input order.
func (a *Aggregator[T, R]) flush(items []T, waiters []waiter[R]) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	batchID := id.NewBatchID()
	ctx := context.WithValue(context.Background(), batchIDKey{}, batchID)

	results, err := a.process(ctx, items)
	if err == nil && len(results) != len(items) {
		err = fmt.Errorf("batch: process returned %d results for %d items", len(results), len(items))
	}
	if err != nil {
		a.logger.Warn("batch processing failed",
			slog.String("batch_id", batchID.String()),
			slog.Int("items", len(items)),
			slog.String("error", err.Error()),
		)
		for _, w := range waiters {
			w.ch <- outcome[R]{err: err}
		}
		return
	}

	for i, w := range waiters {
		w.ch <- outcome[R]{result: results[i]}
	}
}
