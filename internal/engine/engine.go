package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/passkey"
	"github.com/roach88/passvault/internal/policy"
	"github.com/roach88/passvault/internal/program"
	"github.com/roach88/passvault/internal/store"
)

// Limits enforced at the request boundary.
const (
	MaxAccounts         = 32
	MaxPolicyDataSize   = 1024
	MaxEffectDataSize   = 1024
	MaxCredentialIDSize = 256
	MaxWhitelistSize    = 32

	DefaultCommitTTL     = 300
	DefaultMaxMessageAge = 300
)

// Engine authenticates, authorizes and applies wallet actions.
//
// Every entry point is one synchronous pass inside one store transaction.
// Any error rolls back the whole unit and is returned as a *RuntimeError.
// Actions on the same wallet serialize on a per-wallet lock; the store's
// single writer connection orders everything else.
//
// Thread-safety: all exported methods are safe for concurrent use.
type Engine struct {
	store    *store.Store
	policies *policy.Registry
	programs *program.Registry
	verifier *passkey.Verifier
	clock    Clock
	ids      IDGenerator
	logger   *slog.Logger
	locks    *walletLocks

	origins      []string
	keyCacheSize int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator sets the event ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithOrigins sets the WebAuthn origins assertions may come from.
func WithOrigins(origins ...string) EngineOption {
	return func(e *Engine) { e.origins = append([]string(nil), origins...) }
}

// WithKeyCacheSize bounds the parsed passkey cache.
func WithKeyCacheSize(n int) EngineOption {
	return func(e *Engine) { e.keyCacheSize = n }
}

// WithVerifier replaces the passkey verifier. WithOrigins and
// WithKeyCacheSize are ignored when it is set.
func WithVerifier(v *passkey.Verifier) EngineOption {
	return func(e *Engine) { e.verifier = v }
}

// WithPolicies replaces the policy dispatch table. Default:
// policy.Builtins().
func WithPolicies(r *policy.Registry) EngineOption {
	return func(e *Engine) { e.policies = r }
}

// WithPrograms replaces the effect program registry. Default:
// program.Builtins().
func WithPrograms(r *program.Registry) EngineOption {
	return func(e *Engine) { e.programs = r }
}

// New creates an Engine over s.
func New(s *store.Store, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:        s,
		clock:        SystemClock{},
		ids:          UUIDv7Generator{},
		logger:       slog.Default(),
		locks:        newWalletLocks(),
		keyCacheSize: passkey.DefaultKeyCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policies == nil {
		e.policies = policy.Builtins()
	}
	if e.programs == nil {
		e.programs = program.Builtins()
	}
	if e.verifier == nil {
		cache, err := passkey.NewKeyCache(e.keyCacheSize)
		if err != nil {
			return nil, err
		}
		e.verifier = passkey.NewVerifier(e.origins, cache)
	}
	return e, nil
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store { return e.store }

// Policies returns the policy dispatch table.
func (e *Engine) Policies() *policy.Registry { return e.policies }

// Programs returns the effect program registry.
func (e *Engine) Programs() *program.Registry { return e.programs }

// Now returns the engine clock in unix seconds.
func (e *Engine) Now() int64 { return e.clock.Now().Unix() }

// unit is the state of one atomic action.
type unit struct {
	e      *Engine
	tx     *store.Tx
	now    int64
	stage  Stage
	wallet ir.Address
	cfg    store.Config
	events []store.Event
}

// run executes fn as one atomic unit named op. A non-zero wallet takes the
// wallet's lock for the duration.
func (e *Engine) run(ctx context.Context, op string, wallet ir.Address, fn func(u *unit) error) ([]store.Event, error) {
	if !wallet.IsZero() {
		unlock := e.locks.lock(wallet)
		defer unlock()
	}

	u := &unit{e: e, now: e.Now(), stage: StageReceived, wallet: wallet}
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		u.tx = tx
		u.events = nil
		return fn(u)
	})
	if err != nil {
		re := asRuntimeError(err)
		if re.Stage == "" {
			re.Stage = u.stage
		}
		if re.Wallet.IsZero() {
			re.Wallet = u.wallet
		}
		level := slog.LevelWarn
		if re.Code == CodeInternal {
			level = slog.LevelError
		}
		e.logger.Log(ctx, level, "action failed",
			"op", op,
			"wallet", u.wallet.Short(),
			"stage", re.Stage,
			"code", re.Code,
			"error", re.Message,
		)
		return nil, re
	}

	e.logger.Debug("action applied", "op", op, "wallet", u.wallet.Short(), "events", len(u.events))
	return u.events, nil
}

// config loads GlobalConfig, failing when the engine is not initialized.
func (u *unit) config(ctx context.Context) (store.Config, error) {
	cfg, err := u.tx.GetConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return store.Config{}, newError(CodeNotInitialized, "engine is not initialized")
	}
	if err != nil {
		return store.Config{}, internalError(err)
	}
	u.cfg = cfg
	return cfg, nil
}

// active loads config and rejects when the engine is paused.
func (u *unit) active(ctx context.Context) (store.Config, error) {
	cfg, err := u.config(ctx)
	if err != nil {
		return cfg, err
	}
	if cfg.Paused {
		return cfg, newError(CodePaused, "engine is paused")
	}
	return cfg, nil
}

// emit appends an event to the log inside the unit.
func (u *unit) emit(ctx context.Context, kind string, payload map[string]any) error {
	ev, err := u.tx.AppendEvent(ctx, store.NewEvent{
		ID:        u.e.ids.Generate(),
		Kind:      kind,
		Wallet:    u.wallet,
		Payload:   payload,
		CreatedAt: u.now,
	})
	if err != nil {
		return internalError(err)
	}
	u.events = append(u.events, ev)
	return nil
}

// collector returns who receives fees: the payer, or the authority when no
// payer was given.
func (u *unit) collector(payer ir.Address) ir.Address {
	if payer.IsZero() {
		return u.cfg.Authority
	}
	return payer
}

// chargeFee moves fee from the wallet to the collector and records it.
func (u *unit) chargeFee(ctx context.Context, wallet, payer ir.Address, fee uint64, reason string) error {
	if fee == 0 {
		return nil
	}
	to := u.collector(payer)
	if err := u.tx.Transfer(ctx, wallet, to, fee); err != nil {
		return balanceError(err, "%s fee", reason)
	}
	return u.emit(ctx, EventFeeCollected, map[string]any{
		"amount": fee,
		"to":     to,
		"reason": reason,
	})
}

func balanceError(err error, format string, args ...any) error {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		return newError(CodeInsufficientFunds, "%s: insufficient funds", fmt.Sprintf(format, args...))
	case errors.Is(err, store.ErrOverflow):
		return newError(CodeInvalidRequest, "%s: balance overflow", fmt.Sprintf(format, args...))
	default:
		return internalError(err)
	}
}
