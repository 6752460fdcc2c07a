package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/passvault/internal/ir"
)

// TraceSnapshot is the golden-compared form of a run. It holds step
// outcomes and event kinds only, so it carries no keys, signatures or
// derived addresses.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Steps    []StepResult `json:"steps"`
}

func (s TraceSnapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, st := range s.Steps {
		steps[i] = map[string]any{
			"step":    st.Step,
			"action":  st.Action,
			"outcome": st.Outcome,
			"events":  st.Events,
		}
	}
	return map[string]any{
		"scenario": s.Scenario,
		"steps":    steps,
	}
}

// Canonical returns the snapshot as canonical JSON.
func (s TraceSnapshot) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// Snapshot returns the golden-compared form of r.
func (r *Result) Snapshot() TraceSnapshot {
	return TraceSnapshot{Scenario: r.Scenario, Steps: r.Steps}
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
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
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snap := result.Snapshot()
	snap.Scenario = name
	traceJSON, err := snap.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)
	return nil
}
