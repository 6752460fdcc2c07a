package engine

import (
	"context"
	"errors"
	"strconv"

	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/store"
)

// Config parameter names accepted by UpdateConfig.
const (
	ParamCommitTTL       = "commit_ttl"
	ParamMaxMessageAge   = "max_message_age"
	ParamCreateWalletFee = "create_wallet_fee"
	ParamExecuteFee      = "execute_fee"
	ParamDefaultPolicy   = "default_policy"
	ParamAuthority       = "authority"
)

// ConfigParams lists the parameters UpdateConfig accepts.
var ConfigParams = []string{
	ParamCommitTTL, ParamMaxMessageAge, ParamCreateWalletFee,
	ParamExecuteFee, ParamDefaultPolicy, ParamAuthority,
}

// Initialize creates the global configuration and seeds the whitelist with
// the default policy. It can run once.
func (e *Engine) Initialize(ctx context.Context, req InitializeRequest) ([]store.Event, error) {
	return e.run(ctx, "initialize", ir.Address{}, func(u *unit) error {
		if req.Authority.IsZero() {
			return newError(CodeInvalidRequest, "authority is required")
		}
		if req.DefaultPolicy.IsZero() {
			return newError(CodeInvalidRequest, "default policy is required")
		}
		if _, ok := e.policies.Lookup(req.DefaultPolicy); !ok {
			return newError(CodeModuleUnavailable, "default policy %s has no registered implementation", req.DefaultPolicy.Short())
		}
		if req.CommitTTL == 0 {
			req.CommitTTL = DefaultCommitTTL
		}
		if req.MaxMessageAge == 0 {
			req.MaxMessageAge = DefaultMaxMessageAge
		}
		if req.CommitTTL < 0 || req.MaxMessageAge < 0 {
			return newError(CodeInvalidRequest, "durations must be positive")
		}

		cfg := store.Config{
			Authority:       req.Authority,
			DefaultPolicy:   req.DefaultPolicy,
			CommitTTL:       req.CommitTTL,
			MaxMessageAge:   req.MaxMessageAge,
			CreateWalletFee: req.CreateWalletFee,
			ExecuteFee:      req.ExecuteFee,
			UpdatedAt:       u.now,
		}
		err := u.tx.InsertConfig(ctx, cfg)
		if errors.Is(err, store.ErrConflict) {
			return newError(CodeAlreadyInitialized, "engine is already initialized")
		}
		if errors.Is(err, store.ErrOverflow) {
			return newError(CodeInvalidRequest, "fee exceeds storable range")
		}
		if err != nil {
			return internalError(err)
		}
		u.cfg = cfg

		if err := u.emit(ctx, EventProgramInitialized, map[string]any{
			"authority":         cfg.Authority,
			"default_policy":    cfg.DefaultPolicy,
			"commit_ttl":        cfg.CommitTTL,
			"max_message_age":   cfg.MaxMessageAge,
			"create_wallet_fee": cfg.CreateWalletFee,
			"execute_fee":       cfg.ExecuteFee,
		}); err != nil {
			return err
		}

		seed := append([]ir.Address{req.DefaultPolicy}, req.Whitelist...)
		for i, m := range seed {
			if i > 0 && m == req.DefaultPolicy {
				continue
			}
			if err := u.addWhitelist(ctx, m); err != nil {
				return err
			}
		}
		e.logger.Info("engine initialized", "authority", cfg.Authority.Short(),
			"default_policy", e.policies.Name(cfg.DefaultPolicy))
		return nil
	})
}

// authorize loads config and requires caller to be the authority.
func (u *unit) authorize(ctx context.Context, caller ir.Address) (store.Config, error) {
	cfg, err := u.config(ctx)
	if err != nil {
		return cfg, err
	}
	if caller != cfg.Authority {
		return cfg, newError(CodeUnauthorized, "caller %s is not the authority", caller.Short())
	}
	return cfg, nil
}

func (u *unit) addWhitelist(ctx context.Context, module ir.Address) error {
	n, err := u.tx.WhitelistLen(ctx)
	if err != nil {
		return internalError(err)
	}
	if n >= MaxWhitelistSize {
		return newError(CodeWhitelistFull, "whitelist holds the maximum of %d modules", MaxWhitelistSize)
	}
	err = u.tx.AddWhitelist(ctx, module, u.now)
	if errors.Is(err, store.ErrConflict) {
		return newError(CodeWhitelistDuplicate, "policy %s is already whitelisted", u.e.policies.Name(module))
	}
	if err != nil {
		return internalError(err)
	}
	return u.emit(ctx, EventWhitelistAdded, map[string]any{"policy": module})
}

// AddWhitelist registers a policy module identity.
func (e *Engine) AddWhitelist(ctx context.Context, caller, module ir.Address) ([]store.Event, error) {
	return e.run(ctx, "whitelist_add", ir.Address{}, func(u *unit) error {
		if _, err := u.authorize(ctx, caller); err != nil {
			return err
		}
		if module.IsZero() {
			return newError(CodeInvalidRequest, "module identity is required")
		}
		return u.addWhitelist(ctx, module)
	})
}

// RemoveWhitelist unregisters a policy module. The default policy and any
// module that is still a wallet's active policy cannot be removed.
func (e *Engine) RemoveWhitelist(ctx context.Context, caller, module ir.Address) ([]store.Event, error) {
	return e.run(ctx, "whitelist_remove", ir.Address{}, func(u *unit) error {
		cfg, err := u.authorize(ctx, caller)
		if err != nil {
			return err
		}
		if module == cfg.DefaultPolicy {
			return newError(CodeInvalidRequest, "the default policy cannot be removed from the whitelist")
		}
		inUse, err := u.tx.PolicyInUse(ctx, module)
		if err != nil {
			return internalError(err)
		}
		if inUse {
			return newError(CodeWhitelistInUse, "policy %s is the active policy of at least one wallet", e.policies.Name(module))
		}
		err = u.tx.RemoveWhitelist(ctx, module)
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeWhitelistMissing, "policy %s is not whitelisted", e.policies.Name(module))
		}
		if err != nil {
			return internalError(err)
		}
		return u.emit(ctx, EventWhitelistRemoved, map[string]any{"policy": module})
	})
}

// SetPaused halts or resumes every state-changing wallet entry point.
func (e *Engine) SetPaused(ctx context.Context, caller ir.Address, paused bool) ([]store.Event, error) {
	return e.run(ctx, "set_paused", ir.Address{}, func(u *unit) error {
		cfg, err := u.authorize(ctx, caller)
		if err != nil {
			return err
		}
		cfg.Paused = paused
		cfg.UpdatedAt = u.now
		if err := u.tx.UpdateConfig(ctx, cfg); err != nil {
			return internalError(err)
		}
		e.logger.Warn("pause state changed", "paused", paused)
		return u.emit(ctx, EventPausedStateChanged, map[string]any{"paused": paused})
	})
}

// UpdateConfig sets one configuration parameter. value is parsed per
// parameter: integers for durations and fees, a policy name or hex identity
// for default_policy, a hex address for authority.
func (e *Engine) UpdateConfig(ctx context.Context, caller ir.Address, param, value string) ([]store.Event, error) {
	return e.run(ctx, "update_config", ir.Address{}, func(u *unit) error {
		cfg, err := u.authorize(ctx, caller)
		if err != nil {
			return err
		}

		switch param {
		case ParamCommitTTL, ParamMaxMessageAge:
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil || v <= 0 {
				return newError(CodeInvalidRequest, "%s must be a positive number of seconds", param)
			}
			if param == ParamCommitTTL {
				cfg.CommitTTL = v
			} else {
				cfg.MaxMessageAge = v
			}
		case ParamCreateWalletFee, ParamExecuteFee:
			v, err := strconv.ParseUint(value, 10, 63)
			if err != nil {
				return newError(CodeInvalidRequest, "%s must be a non-negative integer", param)
			}
			if param == ParamCreateWalletFee {
				cfg.CreateWalletFee = v
			} else {
				cfg.ExecuteFee = v
			}
		case ParamDefaultPolicy:
			id, err := e.policies.Resolve(value)
			if err != nil {
				return newError(CodeInvalidRequest, "%v", err)
			}
			ok, err := u.tx.IsWhitelisted(ctx, id)
			if err != nil {
				return internalError(err)
			}
			if !ok {
				return newError(CodeNotWhitelisted, "policy %s is not whitelisted", e.policies.Name(id))
			}
			if _, ok := e.policies.Lookup(id); !ok {
				return newError(CodeModuleUnavailable, "policy %s has no registered implementation", id.Short())
			}
			cfg.DefaultPolicy = id
		case ParamAuthority:
			a, err := ir.ParseAddress(value)
			if err != nil || a.IsZero() {
				return newError(CodeInvalidRequest, "authority must be a non-zero hex address")
			}
			cfg.Authority = a
		default:
			return newError(CodeInvalidRequest, "unknown config parameter %q", param)
		}

		cfg.UpdatedAt = u.now
		if err := u.tx.UpdateConfig(ctx, cfg); err != nil {
			return internalError(err)
		}
		return u.emit(ctx, EventConfigUpdated, map[string]any{"param": param, "value": value})
	})
}
