package engine

import (
	"context"
	"errors"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/policy"
	"github.com/roach88/passvault/internal/store"
)

// CreateWallet creates a wallet, its state record and its first
// authenticator, funds it from the payer and initializes its policy.
func (e *Engine) CreateWallet(ctx context.Context, req CreateWalletRequest) ([]store.Event, error) {
	wallet := address.Wallet(req.WalletID)
	return e.run(ctx, "create_wallet", wallet, func(u *unit) error {
		cfg, err := u.active(ctx)
		if err != nil {
			return err
		}
		if req.WalletID == 0 {
			return newError(CodeInvalidRequest, "wallet id 0 is reserved")
		}
		if err := validatePasskey(req.Passkey, req.CredentialID); err != nil {
			return err
		}
		if err := validatePolicyData(req.PolicyData); err != nil {
			return err
		}
		if len(req.PolicyAccounts) > MaxAccounts {
			return newError(CodeInvalidRequest, "%d accounts exceeds %d", len(req.PolicyAccounts), MaxAccounts)
		}
		if req.Amount > 0 && req.Payer.IsZero() {
			return newError(CodeInvalidRequest, "funding requires a payer")
		}

		pol := cfg.DefaultPolicy
		if req.Policy != nil {
			pol = *req.Policy
		}
		m, err := u.resolveModule(ctx, pol)
		if err != nil {
			return err
		}

		w := store.Wallet{
			Address:      wallet,
			WalletID:     req.WalletID,
			StateAddress: address.WalletState(wallet),
			Policy:       pol,
			Owner:        wallet,
			CreatedAt:    u.now,
		}
		err = u.tx.InsertWallet(ctx, w)
		if errors.Is(err, store.ErrConflict) {
			return newError(CodeWalletExists, "wallet %d already exists", req.WalletID)
		}
		if err != nil {
			return internalError(err)
		}
		if err := u.emit(ctx, EventWalletCreated, map[string]any{
			"wallet_id":    req.WalletID,
			"state":        w.StateAddress,
			"policy":       pol,
			"payer":        req.Payer,
			"pay_for_user": req.PayForUser,
		}); err != nil {
			return err
		}

		dev, err := u.registerDevice(ctx, &DeviceRequest{Passkey: req.Passkey, CredentialID: req.CredentialID})
		if err != nil {
			return err
		}
		if req.Amount > 0 {
			if err := u.tx.Transfer(ctx, req.Payer, wallet, req.Amount); err != nil {
				return balanceError(err, "fund wallet")
			}
			if err := u.emit(ctx, EventDeposit, map[string]any{
				"from":   req.Payer,
				"amount": req.Amount,
			}); err != nil {
				return err
			}
		}

		inv := u.invocation(policy.PhaseInit, pol, dev.Address, req.PolicyAccounts, req.PolicyData)
		if err := u.callPolicy(ctx, m, inv); err != nil {
			return err
		}
		u.stage = StagePolicyEvaluated

		if !req.PayForUser {
			if err := u.chargeFee(ctx, wallet, req.Payer, cfg.CreateWalletFee, "create_wallet"); err != nil {
				return err
			}
		}
		u.stage = StageEffectApplied

		e.logger.Info("wallet created", "wallet", wallet.Short(), "wallet_id", req.WalletID,
			"policy", e.policies.Name(pol))
		return nil
	})
}

// Deposit credits amount to account. It is a host-side operation used by
// operators and tests to fund payers and wallets.
func (e *Engine) Deposit(ctx context.Context, account ir.Address, amount uint64) ([]store.Event, error) {
	return e.run(ctx, "deposit", account, func(u *unit) error {
		if _, err := u.config(ctx); err != nil {
			return err
		}
		if account.IsZero() || amount == 0 {
			return newError(CodeInvalidRequest, "deposit requires an account and a positive amount")
		}
		if err := u.tx.Credit(ctx, account, amount); err != nil {
			return balanceError(err, "deposit")
		}
		return u.emit(ctx, EventDeposit, map[string]any{"amount": amount})
	})
}

// WalletView is a wallet with its balance, devices and pending commits.
type WalletView struct {
	store.Wallet
	Balance        uint64
	Authenticators []store.Authenticator
	Commits        []store.Commit
}

// Wallet returns the state of the wallet at addr.
func (e *Engine) Wallet(ctx context.Context, addr ir.Address) (WalletView, error) {
	w, err := e.store.GetWallet(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return WalletView{}, newError(CodeWalletNotFound, "wallet %s not found", addr.Short())
	}
	if err != nil {
		return WalletView{}, internalError(err)
	}
	v := WalletView{Wallet: w}
	if v.Balance, err = e.store.Balance(ctx, addr); err != nil {
		return WalletView{}, internalError(err)
	}
	if v.Authenticators, err = e.store.ListAuthenticators(ctx, addr); err != nil {
		return WalletView{}, internalError(err)
	}
	if v.Commits, err = e.store.ListCommits(ctx, addr); err != nil {
		return WalletView{}, internalError(err)
	}
	return v, nil
}

// Authenticator returns a registered device.
func (e *Engine) Authenticator(ctx context.Context, addr ir.Address) (store.Authenticator, error) {
	a, err := e.store.GetAuthenticator(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return store.Authenticator{}, newError(CodeAuthenticatorNotFound, "authenticator %s not found", addr.Short())
	}
	if err != nil {
		return store.Authenticator{}, internalError(err)
	}
	return a, nil
}

// Balance returns the native balance of addr.
func (e *Engine) Balance(ctx context.Context, addr ir.Address) (uint64, error) {
	b, err := e.store.Balance(ctx, addr)
	if err != nil {
		return 0, internalError(err)
	}
	return b, nil
}

// Config returns the global configuration.
func (e *Engine) Config(ctx context.Context) (store.Config, error) {
	cfg, err := e.store.GetConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return store.Config{}, newError(CodeNotInitialized, "engine is not initialized")
	}
	if err != nil {
		return store.Config{}, internalError(err)
	}
	return cfg, nil
}

// Whitelist returns the whitelisted policy identities in insertion order.
func (e *Engine) Whitelist(ctx context.Context) ([]ir.Address, error) {
	list, err := e.store.Whitelist(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	return list, nil
}
