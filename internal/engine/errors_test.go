package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_Category(t *testing.T) {
	tests := []struct {
		code Code
		want Category
	}{
		{CodeNonceReplayed, CategoryAuthentication},
		{CodeInvalidSignature, CategoryAuthentication},
		{CodeSplitIndexOutOfRange, CategoryAuthorization},
		{CodeNotWhitelisted, CategoryAuthorization},
		{CodeNonceMismatch, CategoryState},
		{CodeWalletExists, CategoryState},
		{CodeCommitExpired, CategoryConsistency},
		{CodeCommitMismatch, CategoryConsistency},
		{CodePaused, CategorySystem},
		{Code("made_up"), CategorySystem},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.Category(), tt.code)
	}
}

func TestCodes_SnakeCase(t *testing.T) {
	for code, cat := range codeCategories {
		assert.Regexp(t, `^[a-z][a-z_]*[a-z]$`, string(code))
		assert.NotEmpty(t, cat, code)
	}
}

func TestRuntimeError_Wrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("outer: %w", internalError(cause))

	assert.True(t, IsSystemError(err))
	assert.False(t, IsStateError(err))
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Code(""), CodeOf(cause))
}

func TestRuntimeError_Message(t *testing.T) {
	err := newError(CodeCommitExpired, "commit at nonce %d expired", 4)
	assert.Equal(t, "commit_expired: commit at nonce 4 expired", err.Error())

	err.Wallet = addr(1)
	err.Stage = StageReceived
	assert.Contains(t, err.Error(), "stage=received")

	err = err.with("expires_at", "10")
	assert.Equal(t, map[string]string{"expires_at": "10"}, err.Details)
}

func TestAsRuntimeError(t *testing.T) {
	re := asRuntimeError(errors.New("boom"))
	assert.Equal(t, CodeInternal, re.Code)
	assert.Equal(t, CategorySystem, re.Category)

	orig := newError(CodePaused, "paused")
	assert.Same(t, orig, asRuntimeError(fmt.Errorf("x: %w", orig)))
}
