package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/weave/internal/value"
)

// snapshotValue renders the golden form of a result: scenario name,
// number of delivery orders, authored trace and converged state.
func snapshotValue(name string, result *Result) value.Object {
	trace := make(value.Array, len(result.Trace))
	for i, ev := range result.Trace {
		ops := make(value.Array, len(ev.Ops))
		for j, label := range ev.Ops {
			ops[j] = value.String(label)
		}
		trace[i] = value.Object{
			"replica": value.String(ev.Replica),
			"ops":     ops,
		}
	}
	state := result.Snapshot
	if state == nil {
		state = value.Object{}
	}
	return value.Object{
		"name":   value.String(name),
		"orders": value.Int(result.Orders),
		"trace":  trace,
		"state":  state,
	}
}

// GoldenBytes renders result in golden-file form: canonical JSON of the
// scenario name, delivery-order count, trace and converged state.
func GoldenBytes(scenarioName string, result *Result) ([]byte, error) {
	return value.MarshalCanonical(snapshotValue(scenarioName, result))
}

// RunWithGolden executes a scenario and compares its trace and converged
// state against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against the golden file for
// scenarioName without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	out, err := GoldenBytes(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, out)
	return nil
}
