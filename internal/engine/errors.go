package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/passvault/internal/ir"
)

// Category groups error codes by what the caller can do about them.
type Category string

const (
	// CategoryAuthentication: the request was not signed by a registered
	// device over the current message.
	CategoryAuthentication Category = "AuthenticationError"

	// CategoryAuthorization: the request is authentic but not permitted.
	CategoryAuthorization Category = "AuthorizationError"

	// CategoryState: persisted state does not allow the action.
	CategoryState Category = "StateError"

	// CategoryConsistency: a commit or replace binding does not hold.
	CategoryConsistency Category = "ConsistencyError"

	// CategorySystem: engine-level refusal or an infrastructure failure.
	CategorySystem Category = "SystemError"
)

// Code identifies a specific failure. Codes are stable snake_case strings.
type Code string

const (
	CodeInvalidSignature      Code = "invalid_signature"
	CodeInvalidPasskey        Code = "invalid_passkey"
	CodeInvalidClientData     Code = "invalid_client_data"
	CodeAuthenticatorNotFound Code = "authenticator_not_found"
	CodeMessageExpired        Code = "message_expired"
	CodeNonceReplayed         Code = "nonce_replayed"

	CodeNotWhitelisted       Code = "not_whitelisted"
	CodePolicyRejected       Code = "policy_rejected"
	CodePolicyMismatch       Code = "policy_mismatch"
	CodeSplitIndexOutOfRange Code = "split_index_out_of_range"
	CodeInvalidRequest       Code = "invalid_request"
	CodeTransitionRestricted Code = "policy_transition_restricted"
	CodeReentrancy           Code = "reentrancy"
	CodeEffectRejected       Code = "effect_rejected"

	CodeWalletExists        Code = "wallet_exists"
	CodeWalletNotFound      Code = "wallet_not_found"
	CodeNonceMismatch       Code = "nonce_mismatch"
	CodeNonceOverflow       Code = "nonce_overflow"
	CodeAuthenticatorExists Code = "authenticator_exists"
	CodeCannotRemoveSigner  Code = "cannot_remove_signer"
	CodeInsufficientFunds   Code = "insufficient_funds"
	CodeWhitelistFull       Code = "whitelist_full"
	CodeWhitelistDuplicate  Code = "whitelist_duplicate"
	CodeWhitelistMissing    Code = "whitelist_missing"
	CodeWhitelistInUse      Code = "whitelist_in_use"
	CodeAlreadyInitialized  Code = "already_initialized"
	CodeNotInitialized      Code = "not_initialized"
	CodeCommitNotFound      Code = "commit_not_found"

	CodeCommitMismatch Code = "commit_mismatch"
	CodeCommitExpired  Code = "commit_expired"
	CodeCommitStale    Code = "commit_stale"
	CodeCommitExists   Code = "commit_exists"
	CodeSamePolicy     Code = "same_policy"

	CodeUnauthorized      Code = "unauthorized"
	CodePaused            Code = "paused"
	CodeModuleUnavailable Code = "module_unavailable"
	CodeInternal          Code = "internal"
)

var codeCategories = map[Code]Category{
	CodeInvalidSignature:      CategoryAuthentication,
	CodeInvalidPasskey:        CategoryAuthentication,
	CodeInvalidClientData:     CategoryAuthentication,
	CodeAuthenticatorNotFound: CategoryAuthentication,
	CodeMessageExpired:        CategoryAuthentication,
	CodeNonceReplayed:         CategoryAuthentication,

	CodeNotWhitelisted:       CategoryAuthorization,
	CodePolicyRejected:       CategoryAuthorization,
	CodePolicyMismatch:       CategoryAuthorization,
	CodeSplitIndexOutOfRange: CategoryAuthorization,
	CodeInvalidRequest:       CategoryAuthorization,
	CodeTransitionRestricted: CategoryAuthorization,
	CodeReentrancy:           CategoryAuthorization,
	CodeEffectRejected:       CategoryAuthorization,

	CodeWalletExists:        CategoryState,
	CodeWalletNotFound:      CategoryState,
	CodeNonceMismatch:       CategoryState,
	CodeNonceOverflow:       CategoryState,
	CodeAuthenticatorExists: CategoryState,
	CodeCannotRemoveSigner:  CategoryState,
	CodeInsufficientFunds:   CategoryState,
	CodeWhitelistFull:       CategoryState,
	CodeWhitelistDuplicate:  CategoryState,
	CodeWhitelistMissing:    CategoryState,
	CodeWhitelistInUse:      CategoryState,
	CodeAlreadyInitialized:  CategoryState,
	CodeNotInitialized:      CategoryState,
	CodeCommitNotFound:      CategoryState,

	CodeCommitMismatch: CategoryConsistency,
	CodeCommitExpired:  CategoryConsistency,
	CodeCommitStale:    CategoryConsistency,
	CodeCommitExists:   CategoryConsistency,
	CodeSamePolicy:     CategoryConsistency,

	CodeUnauthorized:      CategorySystem,
	CodePaused:            CategorySystem,
	CodeModuleUnavailable: CategorySystem,
	CodeInternal:          CategorySystem,
}

// Category returns the category a code belongs to. Unknown codes are
// system errors.
func (c Code) Category() Category {
	if cat, ok := codeCategories[c]; ok {
		return cat
	}
	return CategorySystem
}

// RuntimeError is the only error type engine entry points return.
//
// RuntimeError includes structured fields for diagnostics. Message never
// carries signature or key bytes.
type RuntimeError struct {
	// Category is derived from Code.
	Category Category

	// Code identifies the failure.
	Code Code

	// Message is a human-readable description.
	Message string

	// Stage is the last pipeline stage the action completed.
	Stage Stage

	// Wallet is the affected wallet, zero for global actions.
	Wallet ir.Address

	// Details contains additional context.
	Details map[string]string

	err error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if !e.Wallet.IsZero() {
		return fmt.Sprintf("%s: %s (wallet=%s, stage=%s)", e.Code, e.Message, e.Wallet.Short(), e.Stage)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *RuntimeError) Unwrap() error {
	return e.err
}

func newError(code Code, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Category: code.Category(),
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	}
}

func wrapError(code Code, err error, format string, args ...any) *RuntimeError {
	re := newError(code, format, args...)
	re.Message = fmt.Sprintf("%s: %v", re.Message, err)
	re.err = err
	return re
}

// internalError wraps an infrastructure failure.
func internalError(err error) *RuntimeError {
	return wrapError(CodeInternal, err, "internal error")
}

func (e *RuntimeError) with(key, value string) *RuntimeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// asRuntimeError converts any error into a RuntimeError, treating unknown
// errors as internal.
func asRuntimeError(err error) *RuntimeError {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re
	}
	return internalError(err)
}

// CodeOf returns the code of err, or "" if err is not a RuntimeError.
func CodeOf(err error) Code {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

func isCategory(err error, cat Category) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Category == cat
	}
	return false
}

// IsAuthenticationError reports whether err is an AuthenticationError.
func IsAuthenticationError(err error) bool { return isCategory(err, CategoryAuthentication) }

// IsAuthorizationError reports whether err is an AuthorizationError.
func IsAuthorizationError(err error) bool { return isCategory(err, CategoryAuthorization) }

// IsStateError reports whether err is a StateError.
func IsStateError(err error) bool { return isCategory(err, CategoryState) }

// IsConsistencyError reports whether err is a ConsistencyError.
func IsConsistencyError(err error) bool { return isCategory(err, CategoryConsistency) }

// IsSystemError reports whether err is a SystemError.
func IsSystemError(err error) bool { return isCategory(err, CategorySystem) }
