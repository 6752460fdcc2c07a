package engine

import (
	"context"
	"errors"

	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/passkey"
	"github.com/roach88/passvault/internal/policy"
	"github.com/roach88/passvault/internal/program"
	"github.com/roach88/passvault/internal/store"
)

// authorizeTransaction runs the shared front half of Execute and Commit:
// pause check, boundary validation, authentication, and policy approval
// of the effect preview.
func (u *unit) authorizeTransaction(ctx context.Context, kind passkey.Kind, req TransactionRequest) (store.Wallet, ir.Instruction, error) {
	if _, err := u.active(ctx); err != nil {
		return store.Wallet{}, ir.Instruction{}, err
	}
	policyCall, effectCall, err := validateTransaction(req)
	if err != nil {
		return store.Wallet{}, ir.Instruction{}, err
	}

	w, err := u.loadWallet(ctx)
	if err != nil {
		return store.Wallet{}, ir.Instruction{}, err
	}
	signer, err := u.authenticate(ctx, w, req.Auth, func(nonce uint64) (passkey.Message, error) {
		return req.message(kind, nonce)
	})
	if err != nil {
		return store.Wallet{}, ir.Instruction{}, err
	}

	if req.PolicyProgram != w.Policy {
		return store.Wallet{}, ir.Instruction{}, newError(CodePolicyMismatch,
			"request targets %s but the active policy is %s",
			u.e.policies.Name(req.PolicyProgram), u.e.policies.Name(w.Policy))
	}
	m, err := u.resolveModule(ctx, w.Policy)
	if err != nil {
		return store.Wallet{}, ir.Instruction{}, err
	}
	inv := u.invocation(policy.PhaseApprove, w.Policy, signer.Address, policyCall.Accounts, policyCall.Data)
	inv.Effect = &effectCall
	if err := u.callPolicy(ctx, m, inv); err != nil {
		return store.Wallet{}, ir.Instruction{}, err
	}
	u.stage = StagePolicyEvaluated
	return w, effectCall, nil
}

// applyEffect relays in to its program with the wallet as signer.
func (u *unit) applyEffect(ctx context.Context, in ir.Instruction) (map[string]any, error) {
	if err := validateEffect(in); err != nil {
		return nil, err
	}
	call := &program.Call{
		Program:  in.Program,
		Accounts: in.Accounts,
		Data:     in.Data,
		Signer:   u.wallet,
		Ledger:   u.tx,
		Now:      u.now,
	}
	err := u.e.programs.Invoke(ctx, call)
	switch {
	case err == nil:
	case errors.Is(err, program.ErrUnknownProgram):
		return nil, newError(CodeModuleUnavailable, "effect program %s is not registered", in.Program.Short())
	case errors.Is(err, program.ErrRejected), errors.Is(err, program.ErrMissingSignature):
		return nil, wrapError(CodeEffectRejected, err, "effect %s", u.e.programs.Name(in.Program))
	default:
		return nil, balanceError(err, "effect %s", u.e.programs.Name(in.Program))
	}
	u.stage = StageEffectApplied
	return call.Output, nil
}

// Execute authorizes and applies a transaction in one unit.
//
// Order: pause check, limits, wallet lock, authentication, policy match and
// whitelist, approve, reentrancy guard, effect, execute fee, nonce, event.
func (e *Engine) Execute(ctx context.Context, req TransactionRequest) ([]store.Event, error) {
	return e.run(ctx, "execute", req.Wallet, func(u *unit) error {
		w, effect, err := u.authorizeTransaction(ctx, passkey.KindExecute, req)
		if err != nil {
			return err
		}
		output, err := u.applyEffect(ctx, effect)
		if err != nil {
			return err
		}
		if err := u.chargeFee(ctx, w.Address, req.Payer, u.cfg.ExecuteFee, "execute"); err != nil {
			return err
		}
		next, err := u.advanceNonce(ctx, w)
		if err != nil {
			return err
		}

		payload := map[string]any{
			"nonce":      w.Nonce,
			"next_nonce": next,
			"policy":     w.Policy,
			"program":    effect.Program,
			"data_hash":  effect.DataHash(),
		}
		for k, v := range output {
			payload["output_"+k] = v
		}
		e.logger.Info("transaction executed", "wallet", w.Address.Short(), "nonce", w.Nonce,
			"program", e.programs.Name(effect.Program))
		return u.emit(ctx, EventTransactionExecuted, payload)
	})
}
