package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/passvault/internal/store"
)

func events(kinds ...string) []store.Event {
	out := make([]store.Event, len(kinds))
	for i, k := range kinds {
		out[i] = store.Event{Seq: int64(i + 1), Kind: k}
	}
	return out
}

func TestAssertEventOrder(t *testing.T) {
	log := events("ProgramInitialized", "Deposit", "SmartWalletCreated", "Deposit", "TransactionExecuted")

	tests := []struct {
		name  string
		kinds []string
		ok    bool
	}{
		{"adjacent", []string{"SmartWalletCreated", "Deposit"}, true},
		{"gapped", []string{"ProgramInitialized", "TransactionExecuted"}, true},
		{"repeated kind", []string{"Deposit", "Deposit", "TransactionExecuted"}, true},
		{"reversed", []string{"TransactionExecuted", "SmartWalletCreated"}, false},
		{"missing", []string{"Deposit", "CommitCreated"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertEventOrder(log, tt.kinds)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, AssertEventOrder, ae.Type)
		})
	}
}

func TestAssertionError_Message(t *testing.T) {
	err := compare(AssertBalance, 10, 7)
	require.Error(t, err)
	assert.Equal(t, "balance: expected 10, got 7", err.Error())
	assert.NoError(t, compare(AssertBalance, 7, 7))
}

// Genesis logs ProgramInitialized, WhitelistPolicyAdded and the payer
// Deposit before the flow starts.
func TestEvaluate_EventFilter(t *testing.T) {
	s := parse(t, `
name: filter
flow:
  - action: fund
    args: { account: bob, amount: 3 }
  - action: fund
    args: { account: bob, amount: 4 }
assertions:
  - type: event_count
    filter: 'kind == "Deposit"'
    count: 3
  - type: event_count
    filter: 'kind == "Deposit" and payload.amount == 4'
    count: 1
  - type: event_count
    count: 5
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestEvaluate_BadFilter(t *testing.T) {
	s := parse(t, `
name: bad_filter
flow:
  - action: fund
    args: { account: bob, amount: 3 }
assertions:
  - type: event_count
    filter: 'kind =='
    count: 0
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "invalid_request")
}
