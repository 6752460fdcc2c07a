package engine

import (
	"context"
	"errors"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/passkey"
	"github.com/roach88/passvault/internal/policy"
	"github.com/roach88/passvault/internal/store"
)

// resolveModule gates a policy identity on the whitelist, then on the
// dispatch table.
func (u *unit) resolveModule(ctx context.Context, id ir.Address) (policy.Module, error) {
	ok, err := u.tx.IsWhitelisted(ctx, id)
	if err != nil {
		return nil, internalError(err)
	}
	if !ok {
		return nil, newError(CodeNotWhitelisted, "policy %s is not whitelisted", u.e.policies.Name(id))
	}
	m, ok := u.e.policies.Lookup(id)
	if !ok {
		return nil, newError(CodeModuleUnavailable, "policy %s has no registered implementation", id.Short())
	}
	return m, nil
}

func (u *unit) invocation(phase policy.Phase, module ir.Address, authenticator ir.Address, accounts []ir.AccountMeta, data []byte) *policy.Invocation {
	var records policy.RecordStore = policy.Scoped(u.tx, module, u.now)
	if phase == policy.PhaseApprove {
		records = readOnlyRecords{records}
	}
	return &policy.Invocation{
		Phase:         phase,
		Module:        module,
		Wallet:        u.wallet,
		Authenticator: authenticator,
		Accounts:      accounts,
		Data:          data,
		Records:       records,
		Now:           u.now,
	}
}

// callPolicy dispatches inv to m and maps module errors.
func (u *unit) callPolicy(ctx context.Context, m policy.Module, inv *policy.Invocation) error {
	var err error
	if inv.Phase == policy.PhaseApprove {
		err = m.Approve(ctx, inv)
	} else {
		err = m.Mutate(ctx, inv)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, policy.ErrRejected):
		return wrapError(CodePolicyRejected, err, "%s %s", u.e.policies.Name(inv.Module), inv.Phase).
			with("phase", string(inv.Phase))
	case errors.Is(err, errReadOnly):
		return newError(CodePolicyRejected, "%s wrote records during approve", u.e.policies.Name(inv.Module))
	default:
		return internalError(err)
	}
}

var errReadOnly = errors.New("records are read-only during approve")

type readOnlyRecords struct {
	policy.RecordStore
}

func (readOnlyRecords) Put(context.Context, ir.Address, []byte) error { return errReadOnly }
func (readOnlyRecords) Delete(context.Context, ir.Address) error      { return errReadOnly }

// registerDevice creates an authenticator for d on the unit's wallet.
func (u *unit) registerDevice(ctx context.Context, d *DeviceRequest) (*policy.Device, error) {
	addr := address.Authenticator(u.wallet, d.Passkey.Bytes())
	err := u.tx.InsertAuthenticator(ctx, store.Authenticator{
		Address:      addr,
		Wallet:       u.wallet,
		Passkey:      d.Passkey.Bytes(),
		CredentialID: d.CredentialID,
		CreatedAt:    u.now,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, newError(CodeAuthenticatorExists, "passkey is already registered to this wallet")
	}
	if err != nil {
		return nil, internalError(err)
	}
	if err := u.emit(ctx, EventAuthenticatorAdded, map[string]any{
		"authenticator": addr,
		"passkey":       d.Passkey.String(),
	}); err != nil {
		return nil, err
	}
	return &policy.Device{Address: addr, Passkey: d.Passkey, CredentialID: d.CredentialID}, nil
}

// InvokePolicy runs a mutate call on the wallet's active policy, optionally
// registering or removing a device.
func (e *Engine) InvokePolicy(ctx context.Context, req InvokePolicyRequest) ([]store.Event, error) {
	return e.run(ctx, "invoke_policy", req.Wallet, func(u *unit) error {
		if _, err := u.active(ctx); err != nil {
			return err
		}
		if err := validatePolicyData(req.PolicyData); err != nil {
			return err
		}
		if len(req.Accounts) > MaxAccounts {
			return newError(CodeInvalidRequest, "%d accounts exceeds %d", len(req.Accounts), MaxAccounts)
		}
		if err := validateDevice(req.NewDevice); err != nil {
			return err
		}

		w, err := u.loadWallet(ctx)
		if err != nil {
			return err
		}
		signer, err := u.authenticate(ctx, w, req.Auth, func(nonce uint64) (passkey.Message, error) {
			return req.message(nonce), nil
		})
		if err != nil {
			return err
		}

		if req.PolicyProgram != w.Policy {
			return newError(CodePolicyMismatch, "request targets %s but the active policy is %s",
				e.policies.Name(req.PolicyProgram), e.policies.Name(w.Policy))
		}
		m, err := u.resolveModule(ctx, w.Policy)
		if err != nil {
			return err
		}

		inv := u.invocation(policy.PhaseMutate, w.Policy, signer.Address, req.Accounts, req.PolicyData)
		if req.RemoveDevice != nil {
			if *req.RemoveDevice == signer.Address {
				return newError(CodeCannotRemoveSigner, "the signing authenticator cannot remove itself")
			}
			victim, err := u.tx.GetAuthenticator(ctx, *req.RemoveDevice)
			if errors.Is(err, store.ErrNotFound) || (err == nil && victim.Wallet != w.Address) {
				return newError(CodeAuthenticatorNotFound, "authenticator %s is not registered to this wallet", req.RemoveDevice.Short())
			}
			if err != nil {
				return internalError(err)
			}
			inv.RemoveDevice = req.RemoveDevice
		}
		if req.NewDevice != nil {
			dev, err := u.registerDevice(ctx, req.NewDevice)
			if err != nil {
				return err
			}
			inv.NewDevice = dev
		}

		if err := u.callPolicy(ctx, m, inv); err != nil {
			return err
		}
		u.stage = StagePolicyEvaluated

		if req.RemoveDevice != nil {
			if err := u.tx.DeleteAuthenticator(ctx, *req.RemoveDevice); err != nil {
				return internalError(err)
			}
			if err := u.emit(ctx, EventAuthenticatorRemoved, map[string]any{"authenticator": *req.RemoveDevice}); err != nil {
				return err
			}
		}
		u.stage = StageEffectApplied

		next, err := u.advanceNonce(ctx, w)
		if err != nil {
			return err
		}
		return u.emit(ctx, EventPolicyInvoked, map[string]any{
			"policy":        w.Policy,
			"authenticator": signer.Address,
			"nonce":         w.Nonce,
			"next_nonce":    next,
		})
	})
}

// ChangePolicy atomically replaces the wallet's active policy: destroy on
// the old module, init on the new one, then the switch. Any failure leaves
// the old policy active.
func (e *Engine) ChangePolicy(ctx context.Context, req ChangePolicyRequest) ([]store.Event, error) {
	return e.run(ctx, "change_policy", req.Wallet, func(u *unit) error {
		cfg, err := u.active(ctx)
		if err != nil {
			return err
		}
		if err := validatePolicyData(req.DestroyData); err != nil {
			return err
		}
		if err := validatePolicyData(req.InitData); err != nil {
			return err
		}
		destroyCall, initCall, err := req.Calls()
		if err != nil {
			return newError(CodeSplitIndexOutOfRange, "split index %d out of range for %d accounts", req.SplitIndex, len(req.Accounts))
		}
		if len(req.Accounts) > MaxAccounts {
			return newError(CodeInvalidRequest, "%d accounts exceeds %d", len(req.Accounts), MaxAccounts)
		}
		if err := validateDevice(req.NewDevice); err != nil {
			return err
		}

		w, err := u.loadWallet(ctx)
		if err != nil {
			return err
		}
		signer, err := u.authenticate(ctx, w, req.Auth, req.message)
		if err != nil {
			return err
		}

		if req.OldPolicy == req.NewPolicy {
			return newError(CodeSamePolicy, "old and new policy are both %s", e.policies.Name(req.NewPolicy))
		}
		oldModule, err := u.resolveModule(ctx, req.OldPolicy)
		if err != nil {
			return err
		}
		newModule, err := u.resolveModule(ctx, req.NewPolicy)
		if err != nil {
			return err
		}
		if req.OldPolicy != w.Policy {
			return newError(CodePolicyMismatch, "request replaces %s but the active policy is %s",
				e.policies.Name(req.OldPolicy), e.policies.Name(w.Policy))
		}
		if req.OldPolicy != cfg.DefaultPolicy && req.NewPolicy != cfg.DefaultPolicy {
			return newError(CodeTransitionRestricted, "policy changes must move to or from the default policy")
		}

		var dev *policy.Device
		if req.NewDevice != nil {
			if dev, err = u.registerDevice(ctx, req.NewDevice); err != nil {
				return err
			}
		}

		destroy := u.invocation(policy.PhaseDestroy, req.OldPolicy, signer.Address, destroyCall.Accounts, destroyCall.Data)
		if err := u.callPolicy(ctx, oldModule, destroy); err != nil {
			return err
		}
		initInv := u.invocation(policy.PhaseInit, req.NewPolicy, signer.Address, initCall.Accounts, initCall.Data)
		initInv.NewDevice = dev
		if err := u.callPolicy(ctx, newModule, initInv); err != nil {
			return err
		}
		u.stage = StagePolicyEvaluated

		if err := u.tx.SetPolicy(ctx, w.Address, req.NewPolicy); err != nil {
			return internalError(err)
		}
		u.stage = StageEffectApplied

		next, err := u.advanceNonce(ctx, w)
		if err != nil {
			return err
		}
		return u.emit(ctx, EventPolicyChanged, map[string]any{
			"old_policy": req.OldPolicy,
			"new_policy": req.NewPolicy,
			"nonce":      w.Nonce,
			"next_nonce": next,
		})
	})
}
