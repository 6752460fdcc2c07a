package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(p)
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario errors: %v", result.Errors)
		})
	}
}

func TestGolden_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/replay_and_commit_expiry.yaml")
	require.NoError(t, err)

	var traces [][]byte
	for range 3 {
		result, err := Run(s)
		require.NoError(t, err)
		snap := result.Snapshot()
		b, err := snap.Canonical()
		require.NoError(t, err)
		traces = append(traces, b)
	}
	assert.Equal(t, traces[0], traces[1])
	assert.Equal(t, traces[1], traces[2])
}

func TestTraceSnapshot_Canonical(t *testing.T) {
	snap := TraceSnapshot{
		Scenario: "tiny",
		Steps: []StepResult{
			{Step: 1, Action: ActionFund, Outcome: OutcomeOK, Events: []string{"Deposit"}},
			{Step: 2, Action: ActionPause, Outcome: "unauthorized", Events: []string{}},
		},
	}
	b, err := snap.Canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario":"tiny","steps":[{"action":"fund","events":["Deposit"],"outcome":"ok","step":1},{"action":"pause","events":[],"outcome":"unauthorized","step":2}]}`,
		string(b))
}
