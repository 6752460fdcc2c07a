package engine

import (
	"bytes"
	"context"
	"errors"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/passkey"
	"github.com/roach88/passvault/internal/store"
)

// Replay protection
//
// Every signed message embeds the wallet nonce. The engine never trusts the
// nonce a client declares: it rebuilds the expected message from the stored
// nonce and verifies the assertion against that. The declared nonce only
// decides which error the caller sees:
//
//	declared < stored   nonce_replayed  (already consumed)
//	declared > stored   nonce_mismatch  (client is ahead of state)
//
// The nonce advances by exactly one, last, inside the same unit as the
// effect, through a compare-and-swap on the stored value. A rolled back
// action therefore never consumes a nonce, and two actions can never
// consume the same one.

// loadWallet reads the wallet state.
func (u *unit) loadWallet(ctx context.Context) (store.Wallet, error) {
	w, err := u.tx.GetWallet(ctx, u.wallet)
	if errors.Is(err, store.ErrNotFound) {
		return store.Wallet{}, newError(CodeWalletNotFound, "wallet %s not found", u.wallet.Short())
	}
	if err != nil {
		return store.Wallet{}, internalError(err)
	}
	return w, nil
}

// authenticate runs the freshness and nonce checks, resolves the signing
// authenticator and verifies the assertion over the message build returns
// for the stored nonce.
func (u *unit) authenticate(ctx context.Context, w store.Wallet, auth Auth, build func(nonce uint64) (passkey.Message, error)) (store.Authenticator, error) {
	if err := u.checkFreshness(auth.Timestamp); err != nil {
		return store.Authenticator{}, err
	}
	if err := checkNonce(auth.Nonce, w.Nonce); err != nil {
		return store.Authenticator{}, err
	}

	authAddr := address.Authenticator(w.Address, auth.Passkey.Bytes())
	a, err := u.tx.GetAuthenticator(ctx, authAddr)
	if errors.Is(err, store.ErrNotFound) {
		return store.Authenticator{}, newError(CodeAuthenticatorNotFound, "passkey is not registered to this wallet")
	}
	if err != nil {
		return store.Authenticator{}, internalError(err)
	}
	if a.Wallet != w.Address {
		return store.Authenticator{}, newError(CodeAuthenticatorNotFound, "passkey is not registered to this wallet")
	}
	// Stored keys were validated at registration; parsing happens once, in
	// the verifier's key cache.
	if !bytes.Equal(a.Passkey, auth.Passkey.Bytes()) {
		return store.Authenticator{}, newError(CodeInvalidPasskey, "passkey does not match authenticator")
	}

	msg, err := build(w.Nonce)
	if err != nil {
		return store.Authenticator{}, requestError(err)
	}
	if err := u.e.verifier.VerifyAssertion(auth.Passkey, msg, auth.Assertion); err != nil {
		return store.Authenticator{}, verifyError(err)
	}

	u.stage = StageSignatureVerified
	return a, nil
}

// checkFreshness requires |now - timestamp| <= max_message_age.
func (u *unit) checkFreshness(timestamp int64) error {
	age := u.now - timestamp
	if age < 0 {
		age = -age
	}
	if age > u.cfg.MaxMessageAge {
		return newError(CodeMessageExpired, "message timestamp is %ds from engine time (max %ds)", u.now-timestamp, u.cfg.MaxMessageAge).
			with("timestamp", itoa(timestamp))
	}
	return nil
}

func checkNonce(declared, stored uint64) error {
	switch {
	case declared < stored:
		return newError(CodeNonceReplayed, "nonce %d already consumed (current %d)", declared, stored)
	case declared > stored:
		return newError(CodeNonceMismatch, "nonce %d is ahead of current %d", declared, stored)
	}
	return nil
}

// advanceNonce consumes w.Nonce.
func (u *unit) advanceNonce(ctx context.Context, w store.Wallet) (uint64, error) {
	err := u.tx.AdvanceNonce(ctx, w.Address, w.Nonce)
	switch {
	case errors.Is(err, store.ErrOverflow):
		return 0, newError(CodeNonceOverflow, "nonce cannot advance past %d", w.Nonce)
	case errors.Is(err, store.ErrConflict):
		return 0, newError(CodeNonceMismatch, "nonce changed during the action")
	case err != nil:
		return 0, internalError(err)
	}
	u.stage = StageNonceAdvanced
	return w.Nonce + 1, nil
}

func verifyError(err error) error {
	switch {
	case errors.Is(err, passkey.ErrInvalidClientData):
		return newError(CodeInvalidClientData, "assertion client data rejected")
	case errors.Is(err, passkey.ErrInvalidPasskey):
		return newError(CodeInvalidPasskey, "passkey is not a valid P-256 key")
	case errors.Is(err, passkey.ErrMalformedMessage):
		return newError(CodeInvalidRequest, "message cannot be encoded")
	default:
		// Challenge mismatches and bad signatures look the same to callers.
		return newError(CodeInvalidSignature, "signature does not verify for the expected message")
	}
}
