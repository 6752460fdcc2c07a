package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/passkey"
)

// ErrRejected is returned (wrapped) by a module that declines an action.
var ErrRejected = errors.New("policy rejected")

// Phase identifies why a module is being called.
type Phase string

const (
	PhaseApprove Phase = "approve"
	PhaseMutate  Phase = "mutate"
	PhaseInit    Phase = "init"
	PhaseDestroy Phase = "destroy"
)

// Device is a passkey being registered alongside a policy call.
type Device struct {
	Address      ir.Address
	Passkey      passkey.PublicKey
	CredentialID []byte
}

// Invocation is a single call into a policy module.
type Invocation struct {
	Phase         Phase
	Module        ir.Address
	Wallet        ir.Address
	Authenticator ir.Address
	Accounts      []ir.AccountMeta
	Data          []byte

	// NewDevice is set when the action registers an authenticator. The
	// engine has already created it when the module runs.
	NewDevice *Device

	// RemoveDevice is set when the action removes an authenticator. The
	// engine deletes it after the module returns.
	RemoveDevice *ir.Address

	// Effect previews the effect call. Set for PhaseApprove only.
	Effect *ir.Instruction

	Records RecordStore
	Now     int64
}

// Module is a policy implementation.
type Module interface {
	// Approve must not write records.
	Approve(ctx context.Context, inv *Invocation) error
	// Mutate handles PhaseMutate, PhaseInit and PhaseDestroy.
	Mutate(ctx context.Context, inv *Invocation) error
}

// Registry is the dispatch table from module identity to implementation.
type Registry struct {
	modules map[ir.Address]Module
	names   map[ir.Address]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[ir.Address]Module),
		names:   make(map[ir.Address]string),
	}
}

// Builtins returns a registry holding the default and transfer_limit
// modules.
func Builtins() *Registry {
	r := NewRegistry()
	r.Register(DefaultName, Default{})
	r.Register(TransferLimitName, TransferLimit{})
	return r
}

// Register adds m under address.Program(name) and returns that identity.
func (r *Registry) Register(name string, m Module) ir.Address {
	id := address.Program(name)
	r.modules[id] = m
	r.names[id] = name
	return id
}

// Lookup returns the module registered under id.
func (r *Registry) Lookup(id ir.Address) (Module, bool) {
	m, ok := r.modules[id]
	return m, ok
}

// Name returns the registered name of id, or its short hex form.
func (r *Registry) Name(id ir.Address) string {
	if n, ok := r.names[id]; ok {
		return n
	}
	return id.Short()
}

// Resolve accepts a registered name or a hex identity. Hex identities need
// not be registered; the engine reports those as unavailable at call time.
func (r *Registry) Resolve(s string) (ir.Address, error) {
	id := address.Program(s)
	if _, ok := r.modules[id]; ok {
		return id, nil
	}
	a, err := ir.ParseAddress(s)
	if err != nil {
		return ir.Address{}, fmt.Errorf("unknown policy module %q", s)
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

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}
