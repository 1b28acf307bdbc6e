package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/weave/internal/codec"
	"github.com/roach88/weave/internal/doc"
	"github.com/roach88/weave/internal/op"
)

// ScratchReplica is the replica ID of scratch documents. Scratch documents
// never author operations, so it never appears in a snapshot.
const ScratchReplica = "merge"

// Orchestrator merges updates into snapshots.
type Orchestrator struct {
	locks      *KeyedMutex
	logger     *slog.Logger
	historyCap int
	enter      func(ctx context.Context, key Key)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
//
// Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithHistoryCapacity sets the history window of scratch documents.
//
// Default: doc.DefaultHistoryCapacity
func WithHistoryCapacity(n int) Option {
	return func(o *Orchestrator) {
		o.historyCap = n
	}
}

// WithCriticalSection registers fn to run right after the per-key lock is
// taken and before replay starts.
func WithCriticalSection(fn func(ctx context.Context, key Key)) Option {
	return func(o *Orchestrator) {
		o.enter = fn
	}
}

// WithLocks shares a KeyedMutex between orchestrators.
func WithLocks(k *KeyedMutex) Option {
	return func(o *Orchestrator) {
		o.locks = k
	}
}

// New creates an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:     slog.Default(),
		historyCap: doc.DefaultHistoryCapacity,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.locks == nil {
		o.locks = NewKeyedMutex()
	}
	return o
}

// Merge folds updates into existing and returns the canonical snapshot.
//
// Empty payloads are ignored. If at most one non-empty input remains it
// is validated and returned unchanged without taking the lock; a malformed
// lone input fails with MALFORMED_INPUT. Otherwise the inputs are
// replayed into a scratch document in one transaction; any failure is
// returned as MERGE_FAILED and no bytes.
func (o *Orchestrator) Merge(ctx context.Context, key Key, existing []byte, updates [][]byte) ([]byte, error) {
	inputs := make([][]byte, 0, len(updates)+1)
	if !codec.IsEmptyUpdate(existing) {
		inputs = append(inputs, existing)
	}
	for _, u := range updates {
		if !codec.IsEmptyUpdate(u) {
			inputs = append(inputs, u)
		}
	}
	switch len(inputs) {
	case 0:
		mergesTotal.WithLabelValues(outcomeFastPath).Inc()
		return existing, nil
	case 1:
		if err := codec.Validate(inputs[0]); err != nil {
			mergesTotal.WithLabelValues(outcomeFailed).Inc()
			return nil, fmt.Errorf("merge %s: %w", key, err)
		}
		mergesTotal.WithLabelValues(outcomeFastPath).Inc()
		return inputs[0], nil
	}

	waited := prometheus.NewTimer(lockWait)
	unlock, err := o.locks.Lock(ctx, key)
	waited.ObserveDuration()
	if err != nil {
		return nil, fmt.Errorf("merge %s: wait for lock: %w", key, err)
	}
	defer unlock()

	mergesInFlight.Inc()
	defer mergesInFlight.Dec()
	if o.enter != nil {
		o.enter(ctx, key)
	}

	start := time.Now()
	snapshot, err := o.replay(inputs)
	mergeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		mergesTotal.WithLabelValues(outcomeFailed).Inc()
		o.logger.Error("merge failed",
			"doc", key.String(),
			"updates", len(inputs),
			"error", err,
		)
		return nil, op.MergeFailed(fmt.Sprintf("merge %s", key), err)
	}

	mergesTotal.WithLabelValues(outcomeMerged).Inc()
	mergedUpdates.Observe(float64(len(inputs)))
	o.logger.Info("merged updates",
		"doc", key.String(),
		"updates", len(inputs),
		"bytes", len(snapshot),
		"duration", time.Since(start),
	)
	return snapshot, nil
}

func (o *Orchestrator) replay(inputs [][]byte) ([]byte, error) {
	scratch, err := o.scratch()
	if err != nil {
		return nil, err
	}
	if err := scratch.ApplyUpdates("merge", inputs...); err != nil {
		return nil, err
	}
	if n := scratch.PendingCount(); n > 0 {
		o.logger.Warn("merge left operations waiting for dependencies", "pending", n)
	}
	return scratch.EncodeStateAsUpdate(nil)
}

func (o *Orchestrator) scratch() (*doc.Document, error) {
	return doc.New(ScratchReplica,
		doc.WithLogger(o.logger),
		doc.WithHistoryCapacity(o.historyCap),
	)
}

// Diff returns what a client at clientSV is missing from snapshot, and
// the snapshot's own state vector.
func (o *Orchestrator) Diff(snapshot, clientSV []byte) (missing, serverSV []byte, err error) {
	scratch, err := o.scratch()
	if err != nil {
		return nil, nil, err
	}
	if err := scratch.ApplyUpdate(snapshot, "diff"); err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}
	if missing, err = scratch.EncodeStateAsUpdate(clientSV); err != nil {
		return nil, nil, fmt.Errorf("client state vector: %w", err)
	}
	if serverSV, err = scratch.EncodeStateVector(); err != nil {
		return nil, nil, err
	}
	return missing, serverSV, nil
}

// ValidateUpdate reports whether payload is a well-formed update.
func (o *Orchestrator) ValidateUpdate(payload []byte) bool {
	return codec.Validate(payload) == nil
}

// StateVector returns the encoded state vector of snapshot.
func (o *Orchestrator) StateVector(snapshot []byte) ([]byte, error) {
	scratch, err := o.scratch()
	if err != nil {
		return nil, err
	}
	if !codec.IsEmptyUpdate(snapshot) {
		if err := scratch.ApplyUpdate(snapshot, "state-vector"); err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
	}
	return scratch.EncodeStateVector()
}
