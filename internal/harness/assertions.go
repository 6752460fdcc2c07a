package harness

import (
	"fmt"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/store"
)

// evaluate checks one assertion against the engine's final state.
func (h *Harness) evaluate(a Assertion) error {
	switch a.Type {
	case AssertBalance:
		target := account(a.Account)
		if a.Account == "" {
			target = address.Wallet(a.Wallet)
		}
		got, err := h.eng.Balance(h.ctx, target)
		if err != nil {
			return err
		}
		return compare(a.Type, *a.Equals, got)

	case AssertNonce:
		w, err := h.wallet(a.Wallet)
		if err != nil {
			return err
		}
		return compare(a.Type, *a.Equals, w.Nonce)

	case AssertPolicy:
		w, err := h.wallet(a.Wallet)
		if err != nil {
			return err
		}
		want, err := h.policy(a.Policy)
		if err != nil {
			return err
		}
		if w.Policy != want {
			return &AssertionError{Type: a.Type, Expected: a.Policy, Actual: h.eng.Policies().Name(w.Policy)}
		}
		return nil

	case AssertAuthenticators, AssertCommits:
		w, err := h.wallet(a.Wallet)
		if err != nil {
			return err
		}
		got := len(w.Authenticators)
		if a.Type == AssertCommits {
			got = len(w.Commits)
		}
		return compare(a.Type, uint64(*a.Count), uint64(got))

	case AssertEventCount:
		evs, err := h.eng.Events(h.ctx, store.EventQuery{Filter: a.Filter})
		if err != nil {
			return err
		}
		return compare(a.Type, uint64(*a.Count), uint64(len(evs)))

	case AssertEventOrder:
		evs, err := h.eng.Events(h.ctx, store.EventQuery{})
		if err != nil {
			return err
		}
		return assertEventOrder(evs, a.Kinds)

	case AssertChainValid:
		if _, err := h.eng.VerifyEventChain(h.ctx); err != nil {
			return &AssertionError{Type: a.Type, Expected: "valid chain", Actual: err.Error()}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func compare(typ string, want, got uint64) error {
	if want != got {
		return &AssertionError{Type: typ, Expected: fmt.Sprint(want), Actual: fmt.Sprint(got)}
	}
	return nil
}

// assertEventOrder checks that kinds appear in the log in the given order,
// not necessarily adjacent.
func assertEventOrder(evs []store.Event, kinds []string) error {
	next := 0
	for _, ev := range evs {
		if next < len(kinds) && ev.Kind == kinds[next] {
			next++
		}
	}
	if next < len(kinds) {
		return &AssertionError{
			Type:     AssertEventOrder,
			Expected: joinKinds(kinds),
			Actual:   fmt.Sprintf("%s not found after %s", kinds[next], joinKinds(kinds[:next])),
		}
	}
	return nil
}
