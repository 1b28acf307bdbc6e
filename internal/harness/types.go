package harness

import "github.com/roach88/weave/internal/value"

// TraceEvent records one edit transaction as it was authored.
type TraceEvent struct {
	Replica string   `json:"replica"`
	Ops     []string `json:"ops"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every delivery order converged and every assertion
	// held.
	Pass bool `json:"pass"`

	// Orders is the number of delivery orders replayed.
	Orders int `json:"orders"`

	// Trace lists the edits in scenario order.
	Trace []TraceEvent `json:"trace"`

	// State is the converged canonical state JSON.
	State string `json:"state"`

	// Snapshot is the converged state as a value, for golden files.
	Snapshot value.Object `json:"-"`

	// Errors contains divergence and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace records an authored edit.
func (r *Result) AddTrace(replica string, ops []string) {
	r.Trace = append(r.Trace, TraceEvent{Replica: replica, Ops: ops})
}
