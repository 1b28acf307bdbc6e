package harness

import (
	"fmt"
	"log/slog"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/doc"
	"github.com/roach88/weave/internal/testutil"
	"github.com/roach88/weave/internal/value"
)

// ReaderReplica is the replica ID of the documents that replay updates.
// Readers never author operations.
const ReaderReplica = "reader"

// Harness is the scenario execution engine.
// It runs scenarios with deterministic timestamps and operation IDs.
type Harness struct {
	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Author the setup transaction, if any, and hand it to every replica
//  2. Author each edit on its replica, capturing the update it produced
//  3. Replay setup plus edits into a fresh reader for every delivery order
//  4. Sync the authoring replicas and compare them with the readers
//  5. Evaluate assertions against the converged reader
//
// An error means the scenario itself could not be executed; divergence
// and failed assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		clock:  testutil.NewDeterministicClock(),
		logger: testutil.DiscardLogger(),
	}
	return h.run(scenario)
}

func (h *Harness) run(scenario *Scenario) (*Result, error) {
	result := NewResult()

	var setup []byte
	if scenario.Setup != nil {
		d, err := h.replica(scenario.Setup.Replica)
		if err != nil {
			return nil, err
		}
		if err := h.author(d, *scenario.Setup); err != nil {
			return nil, fmt.Errorf("setup: %w", err)
		}
		if setup, err = d.EncodeStateAsUpdate(nil); err != nil {
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	authors := make(map[string]*doc.Document, len(scenario.Replicas))
	for _, id := range scenario.Replicas {
		d, err := h.replica(id)
		if err != nil {
			return nil, err
		}
		if setup != nil {
			if err := d.ApplyUpdate(setup, "setup"); err != nil {
				return nil, fmt.Errorf("replica %s: setup: %w", id, err)
			}
		}
		authors[id] = d
	}

	updates := make([][]byte, 0, len(scenario.Edits))
	for i, e := range scenario.Edits {
		d := authors[e.Replica]
		sv, err := d.EncodeStateVector()
		if err != nil {
			return nil, err
		}
		if err := h.author(d, e); err != nil {
			return nil, fmt.Errorf("edit %d (%s): %w", i, e.Replica, err)
		}
		update, err := d.EncodeStateAsUpdate(sv)
		if err != nil {
			return nil, fmt.Errorf("edit %d (%s): %w", i, e.Replica, err)
		}
		updates = append(updates, update)

		labels := make([]string, len(e.Ops))
		for j, st := range e.Ops {
			labels[j] = st.Label()
		}
		result.AddTrace(e.Replica, labels)
	}

	var converged *doc.Document
	for _, perm := range testutil.Permutations(len(updates)) {
		reader, err := h.replica(ReaderReplica)
		if err != nil {
			return nil, err
		}
		if setup != nil {
			if err := reader.ApplyUpdate(setup, "setup"); err != nil {
				return nil, fmt.Errorf("reader: setup: %w", err)
			}
		}
		for _, i := range perm {
			if err := reader.ApplyUpdate(updates[i], "replay"); err != nil {
				return nil, fmt.Errorf("reader: order %v: %w", perm, err)
			}
		}
		state, err := reader.CanonicalJSON()
		if err != nil {
			return nil, err
		}
		result.Orders++

		if converged == nil {
			converged = reader
			result.State = string(state)
			result.Snapshot = reader.State()
			continue
		}
		if string(state) != result.State {
			result.AddError(fmt.Sprintf("delivery order %v diverged:\n  want: %s\n  got:  %s", perm, result.State, state))
		}
	}

	for _, id := range scenario.Replicas {
		d := authors[id]
		if err := d.ApplyUpdates("sync", updates...); err != nil {
			return nil, fmt.Errorf("replica %s: sync: %w", id, err)
		}
		state, err := d.CanonicalJSON()
		if err != nil {
			return nil, err
		}
		if string(state) != result.State {
			result.AddError(fmt.Sprintf("replica %s diverged after sync:\n  want: %s\n  got:  %s", id, result.State, state))
		}
	}

	for _, msg := range EvaluateAssertions(converged, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) replica(id string) (*doc.Document, error) {
	return doc.New(id,
		doc.WithLogger(h.logger),
		doc.WithTimeSource(h.clock),
		doc.WithIDGenerator(clock.NewFixedGenerator("h")),
	)
}

// author applies e as one transaction on d.
func (h *Harness) author(d *doc.Document, e Edit) error {
	return d.Transact("harness", func(tx *doc.Transaction) error {
		for i, st := range e.Ops {
			if err := applyStep(tx, st); err != nil {
				return fmt.Errorf("ops[%d] %s: %w", i, st.Label(), err)
			}
		}
		return nil
	})
}

func applyStep(tx *doc.Transaction, st Step) error {
	attrs, err := convertAttributes(st.Attributes)
	if err != nil {
		return err
	}

	switch st.Type {
	case StepInsertText:
		if len(attrs) > 0 {
			return tx.Text(st.Container).InsertFormatted(st.Index, st.Text, attrs)
		}
		return tx.Text(st.Container).Insert(st.Index, st.Text)
	case StepDeleteText:
		return tx.Text(st.Container).Delete(st.Index, st.Length)
	case StepFormat:
		return tx.Text(st.Container).Format(st.Index, st.Length, attrs)
	case StepInsertArray, StepPush:
		values, err := convertValues(st.Values)
		if err != nil {
			return err
		}
		if st.Type == StepPush {
			return tx.Array(st.Container).Push(values...)
		}
		return tx.Array(st.Container).Insert(st.Index, values...)
	case StepDeleteArray:
		return tx.Array(st.Container).Delete(st.Index, st.Length)
	case StepSet:
		v, err := value.From(st.Value)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		return tx.Map(st.Container).Set(st.Key, v)
	case StepDeleteKey:
		return tx.Map(st.Container).Delete(st.Key)
	default:
		return fmt.Errorf("unknown op type %q", st.Type)
	}
}

func convertAttributes(in map[string]any) (map[string]value.Value, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]value.Value, len(in))
	for k, v := range in {
		conv, err := value.From(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = conv
	}
	return out, nil
}

func convertValues(in []any) ([]value.Value, error) {
	out := make([]value.Value, len(in))
	for i, v := range in {
		conv, err := value.From(v)
		if err != nil {
			return nil, fmt.Errorf("values[%d]: %w", i, err)
		}
		out[i] = conv
	}
	return out, nil
}
