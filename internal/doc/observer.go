package doc

import (
	"fmt"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/op"
)

// CommitEvent describes a transaction reaching an observer.
type CommitEvent struct {
	// Origin is the transaction's provenance tag.
	Origin string

	// Local is true for edits made through this document, false for
	// ApplyUpdate.
	Local bool

	// Operations are the coalesced operations the transaction applied.
	Operations []op.Operation

	// Update is Operations encoded as an update payload.
	Update []byte

	// StateVector is the document's state vector after the transaction.
	StateVector clock.StateVector

	// Cause is set for aborts.
	Cause error
}

// Observer receives transaction lifecycle callbacks.
//
// Errors and panics are logged and isolated: they never abort the commit
// or stop later observers.
type Observer interface {
	OnBeforeCommit(ev CommitEvent) error
	OnAfterCommit(ev CommitEvent) error
	OnAbort(ev CommitEvent)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	BeforeCommit func(ev CommitEvent) error
	AfterCommit  func(ev CommitEvent) error
	Abort        func(ev CommitEvent)
}

func (f ObserverFuncs) OnBeforeCommit(ev CommitEvent) error {
	if f.BeforeCommit == nil {
		return nil
	}
	return f.BeforeCommit(ev)
}

func (f ObserverFuncs) OnAfterCommit(ev CommitEvent) error {
	if f.AfterCommit == nil {
		return nil
	}
	return f.AfterCommit(ev)
}

func (f ObserverFuncs) OnAbort(ev CommitEvent) {
	if f.Abort != nil {
		f.Abort(ev)
	}
}

type phase string

const (
	phaseBefore phase = "before_commit"
	phaseAfter  phase = "after_commit"
	phaseAbort  phase = "abort"
)

// notify runs every observer for phase, isolating failures.
func (d *Document) notify(p phase, ev CommitEvent) {
	for i, o := range d.observers {
		if err := d.callObserver(p, o, ev); err != nil {
			d.logger.Warn("observer failed",
				"phase", p,
				"observer", i,
				"origin", ev.Origin,
				"error", err,
			)
		}
	}
}

func (d *Document) callObserver(p phase, o Observer, ev CommitEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	switch p {
	case phaseBefore:
		return o.OnBeforeCommit(ev)
	case phaseAfter:
		return o.OnAfterCommit(ev)
	default:
		o.OnAbort(ev)
		return nil
	}
}
