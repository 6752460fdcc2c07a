package engine

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/passkey"
	"github.com/roach88/passvault/internal/store"
)

// Two-phase commit
//
// Commit authorizes an effect now and lets anyone execute it later, within
// commit_ttl, without a signature. The record binds the effect by program,
// sha256(data) and the accounts hash, and is keyed by the nonce the commit
// consumed. It stays executable only while that nonce is the wallet's most
// recent one (wallet.nonce == nonce+1) and until expires_at. Executing it
// destroys it, so a committed effect runs at most once. Expired or stale
// records are reclaimed on demand or by the background sweep.

// Commit authorizes an effect for later execution.
func (e *Engine) Commit(ctx context.Context, req TransactionRequest) ([]store.Event, error) {
	return e.run(ctx, "commit", req.Wallet, func(u *unit) error {
		w, effect, err := u.authorizeTransaction(ctx, passkey.KindCommit, req)
		if err != nil {
			return err
		}

		rec := store.Commit{
			Wallet:       w.Address,
			Nonce:        w.Nonce,
			Address:      address.Commit(w.Address, w.Nonce),
			Program:      effect.Program,
			DataHash:     effect.DataHash(),
			AccountsHash: effect.AccountsHash(),
			ExpiresAt:    u.now + u.cfg.CommitTTL,
			RefundTo:     u.collector(req.Payer),
			CreatedAt:    u.now,
		}
		err = u.tx.InsertCommit(ctx, rec)
		if errors.Is(err, store.ErrConflict) {
			return newError(CodeCommitExists, "a commit already exists at nonce %d", w.Nonce)
		}
		if err != nil {
			return internalError(err)
		}
		u.stage = StageEffectApplied

		next, err := u.advanceNonce(ctx, w)
		if err != nil {
			return err
		}
		return u.emit(ctx, EventCommitCreated, map[string]any{
			"nonce":         rec.Nonce,
			"next_nonce":    next,
			"commit":        rec.Address,
			"program":       rec.Program,
			"data_hash":     rec.DataHash,
			"accounts_hash": rec.AccountsHash,
			"expires_at":    rec.ExpiresAt,
		})
	})
}

// ExecuteCommitted runs a committed effect. It does not advance the nonce.
func (e *Engine) ExecuteCommitted(ctx context.Context, req ExecuteCommittedRequest) ([]store.Event, error) {
	return e.run(ctx, "execute_committed", req.Wallet, func(u *unit) error {
		if _, err := u.active(ctx); err != nil {
			return err
		}
		in := req.Instruction()
		if err := validateEffect(in); err != nil {
			return err
		}
		w, err := u.loadWallet(ctx)
		if err != nil {
			return err
		}

		rec, err := u.tx.GetCommit(ctx, w.Address, req.Nonce)
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeCommitNotFound, "no commit at nonce %d", req.Nonce)
		}
		if err != nil {
			return internalError(err)
		}
		if u.now > rec.ExpiresAt {
			return newError(CodeCommitExpired, "commit at nonce %d expired at %d", rec.Nonce, rec.ExpiresAt).
				with("expires_at", itoa(rec.ExpiresAt))
		}
		if w.Nonce != rec.Nonce+1 {
			return newError(CodeCommitStale, "wallet nonce moved to %d after commit at %d", w.Nonce, rec.Nonce)
		}
		if in.Program != rec.Program || in.DataHash() != rec.DataHash || in.AccountsHash() != rec.AccountsHash {
			return newError(CodeCommitMismatch, "effect does not match the commit at nonce %d", rec.Nonce)
		}
		u.stage = StagePolicyEvaluated

		output, err := u.applyEffect(ctx, in)
		if err != nil {
			return err
		}
		if err := u.tx.DeleteCommit(ctx, w.Address, rec.Nonce); err != nil {
			return internalError(err)
		}
		if err := u.chargeFee(ctx, w.Address, req.Payer, u.cfg.ExecuteFee, "execute"); err != nil {
			return err
		}

		payload := map[string]any{
			"nonce":   rec.Nonce,
			"commit":  rec.Address,
			"program": rec.Program,
		}
		for k, v := range output {
			payload["output_"+k] = v
		}
		return u.emit(ctx, EventCommitExecuted, payload)
	})
}

// reclaimable reports why rec may be reclaimed, or "" if it is still live.
func reclaimable(rec store.Commit, walletNonce uint64, now int64) string {
	switch {
	case now > rec.ExpiresAt:
		return "expired"
	case walletNonce != rec.Nonce+1:
		return "stale"
	default:
		return ""
	}
}

func (u *unit) reclaim(ctx context.Context, rec store.Commit, reason string) error {
	if err := u.tx.DeleteCommit(ctx, rec.Wallet, rec.Nonce); err != nil {
		return internalError(err)
	}
	u.wallet = rec.Wallet
	return u.emit(ctx, EventCommitReclaimed, map[string]any{
		"nonce":     rec.Nonce,
		"commit":    rec.Address,
		"refund_to": rec.RefundTo,
		"reason":    reason,
	})
}

// Reclaim destroys one expired or stale commit record.
func (e *Engine) Reclaim(ctx context.Context, wallet ir.Address, nonce uint64) ([]store.Event, error) {
	return e.run(ctx, "reclaim", wallet, func(u *unit) error {
		if _, err := u.config(ctx); err != nil {
			return err
		}
		w, err := u.loadWallet(ctx)
		if err != nil {
			return err
		}
		rec, err := u.tx.GetCommit(ctx, wallet, nonce)
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeCommitNotFound, "no commit at nonce %d", nonce)
		}
		if err != nil {
			return internalError(err)
		}
		reason := reclaimable(rec, w.Nonce, u.now)
		if reason == "" {
			return newError(CodeInvalidRequest, "commit at nonce %d is still executable", nonce)
		}
		return u.reclaim(ctx, rec, reason)
	})
}

// ReclaimExpired destroys every commit whose expiry has passed and returns
// how many were reclaimed. Live and merely stale records are left alone.
func (e *Engine) ReclaimExpired(ctx context.Context) (int, error) {
	evs, err := e.run(ctx, "reclaim_expired", ir.Address{}, func(u *unit) error {
		if _, err := u.config(ctx); err != nil {
			return err
		}
		expired, err := u.tx.ExpiredCommits(ctx, u.now)
		if err != nil {
			return internalError(err)
		}
		for _, rec := range expired {
			if err := u.reclaim(ctx, rec, "expired"); err != nil {
				return err
			}
		}
		u.wallet = ir.Address{}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(evs) > 0 {
		e.logger.Info("reclaimed expired commits", "count", len(evs))
	}
	return len(evs), nil
}

// DefaultReclaimInterval replaces a non-positive StartReclaimer interval.
const DefaultReclaimInterval = 30 * time.Second

// StartReclaimer sweeps expired commits every interval until ctx is
// cancelled. The returned channel closes when the loop exits.
func (e *Engine) StartReclaimer(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		e.logger.Warn("invalid reclaim interval, using default", "interval", interval, "default", DefaultReclaimInterval)
		interval = DefaultReclaimInterval
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		e.logger.Info("reclaimer starting", "interval", interval)
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("reclaimer stopping", "reason", ctx.Err())
				return
			case <-ticker.C:
				if _, err := e.ReclaimExpired(ctx); err != nil && ctx.Err() == nil {
					e.logger.Error("reclaim sweep failed", "error", err)
				}
			}
		}
	}()
	return done
}
