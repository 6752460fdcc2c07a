package engine

import (
	"context"

	"github.com/roach88/passvault/internal/store"
)

// Event kinds.
const (
	EventProgramInitialized   = "ProgramInitialized"
	EventConfigUpdated        = "ConfigUpdated"
	EventPausedStateChanged   = "ProgramPausedStateChanged"
	EventWhitelistAdded       = "WhitelistPolicyAdded"
	EventWhitelistRemoved     = "WhitelistPolicyRemoved"
	EventWalletCreated        = "SmartWalletCreated"
	EventAuthenticatorAdded   = "AuthenticatorAdded"
	EventAuthenticatorRemoved = "AuthenticatorRemoved"
	EventTransactionExecuted  = "TransactionExecuted"
	EventPolicyInvoked        = "PolicyInvoked"
	EventPolicyChanged        = "PolicyChanged"
	EventCommitCreated        = "CommitCreated"
	EventCommitExecuted       = "CommitExecuted"
	EventCommitReclaimed      = "CommitReclaimed"
	EventFeeCollected         = "FeeCollected"
	EventDeposit              = "Deposit"
)

// Events lists logged events matching q.
func (e *Engine) Events(ctx context.Context, q store.EventQuery) ([]store.Event, error) {
	evs, err := e.store.Events(ctx, q)
	if err != nil {
		return nil, wrapError(CodeInvalidRequest, err, "events")
	}
	return evs, nil
}

// VerifyEventChain recomputes the event hash chain and returns the number of
// events checked.
func (e *Engine) VerifyEventChain(ctx context.Context) (int, error) {
	n, err := e.store.VerifyEventChain(ctx)
	if err != nil {
		return n, internalError(err)
	}
	return n, nil
}
