// Package program holds the effect programs the engine relays to.
//
// An effect program receives the caller-supplied accounts and data of an
// effect call. The engine signs only for the wallet; any other account
// marked as a signer is rejected before dispatch.
package program

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/ir"
)

var (
	// ErrRejected is returned (wrapped) by a program that refuses a call.
	ErrRejected = errors.New("effect rejected")

	// ErrUnknownProgram means no program is registered under the identity.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrMissingSignature means an account is marked signer but the engine
	// does not sign for it.
	ErrMissingSignature = errors.New("missing required signature")
)

// Ledger is the balance surface a program may touch. store.Tx satisfies it.
type Ledger interface {
	Balance(ctx context.Context, addr ir.Address) (uint64, error)
	Transfer(ctx context.Context, from, to ir.Address, amount uint64) error
}

// Call is one effect invocation.
type Call struct {
	Program  ir.Address
	Accounts []ir.AccountMeta
	Data     []byte

	// Signer is the account the engine signs for (the wallet).
	Signer ir.Address
	Ledger Ledger
	Now    int64

	// Output collects values the program reports back; the engine copies
	// them into the event payload.
	Output map[string]any
}

func (c *Call) set(key string, v any) {
	if c.Output == nil {
		c.Output = make(map[string]any)
	}
	c.Output[key] = v
}

// Program executes effect calls.
type Program interface {
	Invoke(ctx context.Context, call *Call) error
}

// Registry maps program identity to implementation.
type Registry struct {
	programs map[ir.Address]Program
	names    map[ir.Address]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		programs: make(map[ir.Address]Program),
		names:    make(map[ir.Address]string),
	}
}

// Builtins returns a registry with the system and memo programs.
func Builtins() *Registry {
	r := NewRegistry()
	r.Register(SystemName, System{})
	r.Register(MemoName, Memo{})
	return r
}

// Register adds p under address.Program(name) and returns that identity.
func (r *Registry) Register(name string, p Program) ir.Address {
	id := address.Program(name)
	r.programs[id] = p
	r.names[id] = name
	return id
}

// Lookup returns the program registered under id.
func (r *Registry) Lookup(id ir.Address) (Program, bool) {
	p, ok := r.programs[id]
	return p, ok
}

// Name returns the registered name of id, or its short hex form.
func (r *Registry) Name(id ir.Address) string {
	if n, ok := r.names[id]; ok {
		return n
	}
	return id.Short()
}

// Resolve accepts a registered name or a hex identity.
func (r *Registry) Resolve(s string) (ir.Address, error) {
	id := address.Program(s)
	if _, ok := r.programs[id]; ok {
		return id, nil
	}
	a, err := ir.ParseAddress(s)
	if err != nil {
		return ir.Address{}, fmt.Errorf("%w: %q", ErrUnknownProgram, s)
	}
	return a, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Invoke checks signer privileges and dispatches call.
func (r *Registry) Invoke(ctx context.Context, call *Call) error {
	p, ok := r.programs[call.Program]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, call.Program.Short())
	}
	for _, m := range call.Accounts {
		if m.IsSigner && m.Key != call.Signer {
			return fmt.Errorf("%w: %s", ErrMissingSignature, m.Key.Short())
		}
	}
	return p.Invoke(ctx, call)
}
