package compactor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/store"
)

// Store is the persistence the worker needs. *store.Store satisfies it.
type Store interface {
	PendingUpdates(ctx context.Context, key merge.Key) ([]store.Update, error)
	LoadSnapshot(ctx context.Context, key merge.Key) (store.Snapshot, bool, error)
	SaveSnapshot(ctx context.Context, key merge.Key, snapshot, stateVector []byte, mergedThrough int64) (int64, error)
	DocumentsWithPending(ctx context.Context) ([]merge.Key, error)
}

// Result describes one compaction.
type Result struct {
	Key     merge.Key `json:"document"`
	Merged  int       `json:"merged"`  // pending updates folded in
	Version int64     `json:"version"` // snapshot version after the save, 0 if nothing was saved
	Bytes   int       `json:"bytes"`   // snapshot size
}

var compactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "weave_compactions_total",
	Help: "Compactions by outcome.",
}, []string{"outcome"})

// Worker compacts documents one at a time.
type Worker struct {
	store      Store
	merger     *merge.Orchestrator
	queue      *keyQueue
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
	onCompact  func(ctx context.Context, r Result, snapshot []byte)
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the structured logger.
//
// Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithBackOff sets the retry policy factory. Each compaction gets a fresh
// policy.
//
// Default: exponential, 50ms initial, 30s max elapsed
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(w *Worker) {
		w.newBackOff = fn
	}
}

// WithOnCompact registers fn to run after every saved snapshot.
func WithOnCompact(fn func(ctx context.Context, r Result, snapshot []byte)) Option {
	return func(w *Worker) {
		w.onCompact = fn
	}
}

// New creates a Worker over s that merges with m.
func New(s Store, m *merge.Orchestrator, opts ...Option) *Worker {
	w := &Worker{
		store:      s,
		merger:     m,
		queue:      newKeyQueue(),
		logger:     slog.Default(),
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// Enqueue schedules key for compaction. Returns false after Stop.
func (w *Worker) Enqueue(key merge.Key) bool {
	return w.queue.Enqueue(key)
}

// Run processes queued keys until ctx is cancelled or Stop is called.
// Errors are logged and the loop continues with the next key.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("compactor starting")

	for {
		key, ok := w.queue.TryDequeue()
		if ok {
			if _, err := w.CompactOnce(ctx, key); err != nil {
				w.logger.Error("compaction failed", "doc", key.String(), "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("compactor stopping: context cancelled")
			w.queue.Close()
			return ctx.Err()

		case <-w.queue.Wait():
			// Closed channel fires immediately
			if w.queue.Len() == 0 && w.queue.Closed() {
				w.logger.Info("compactor stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once it is drained.
func (w *Worker) Stop() {
	w.queue.Close()
}

// CompactAll compacts every document with pending updates, in key order.
// It stops at the first error.
func (w *Worker) CompactAll(ctx context.Context) ([]Result, error) {
	keys, err := w.store.DocumentsWithPending(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(keys))
	for _, k := range keys {
		r, err := w.CompactOnce(ctx, k)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// CompactOnce folds key's pending updates into its snapshot, retrying
// transient failures. A merge failure is returned without retry.
func (w *Worker) CompactOnce(ctx context.Context, key merge.Key) (Result, error) {
	var (
		result   Result
		snapshot []byte
		attempt  int
	)
	operation := func() error {
		attempt++
		var err error
		result, snapshot, err = w.compact(ctx, key)
		if err == nil {
			return nil
		}
		if op.IsMergeFailure(err) || op.IsMalformed(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		w.logger.Warn("compaction retry",
			"doc", key.String(),
			"attempt", attempt,
			"next", next,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(w.newBackOff(), ctx), notify); err != nil {
		compactionsTotal.WithLabelValues("failed").Inc()
		return Result{Key: key}, fmt.Errorf("compact %s: %w", key, err)
	}
	if result.Merged == 0 {
		compactionsTotal.WithLabelValues("idle").Inc()
		return result, nil
	}

	compactionsTotal.WithLabelValues("saved").Inc()
	w.logger.Info("compacted document",
		"doc", key.String(),
		"merged", result.Merged,
		"version", result.Version,
		"bytes", result.Bytes,
	)
	if w.onCompact != nil {
		w.onCompact(ctx, result, snapshot)
	}
	return result, nil
}

func (w *Worker) compact(ctx context.Context, key merge.Key) (Result, []byte, error) {
	r := Result{Key: key}

	pending, err := w.store.PendingUpdates(ctx, key)
	if err != nil {
		return r, nil, err
	}
	if len(pending) == 0 {
		return r, nil, nil
	}
	existing, _, err := w.store.LoadSnapshot(ctx, key)
	if err != nil {
		return r, nil, err
	}

	updates := make([][]byte, len(pending))
	for i, u := range pending {
		updates[i] = u.Payload
	}
	snapshot, err := w.merger.Merge(ctx, key, existing.Payload, updates)
	if err != nil {
		return r, nil, err
	}
	sv, err := w.merger.StateVector(snapshot)
	if err != nil {
		return r, nil, op.MergeFailed(fmt.Sprintf("state vector of %s", key), err)
	}

	through := pending[len(pending)-1].Seq
	version, err := w.store.SaveSnapshot(ctx, key, snapshot, sv, through)
	if err != nil {
		return r, nil, err
	}
	r.Merged = len(pending)
	r.Version = version
	r.Bytes = len(snapshot)
	return r, snapshot, nil
}
