package engine

import (
	"strconv"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/passkey"
	"github.com/roach88/passvault/internal/program"
)

func validatePolicyData(data []byte) error {
	if len(data) == 0 {
		return newError(CodeInvalidRequest, "policy data is empty")
	}
	if len(data) > MaxPolicyDataSize {
		return newError(CodeInvalidRequest, "policy data is %d bytes (max %d)", len(data), MaxPolicyDataSize)
	}
	return nil
}

// validateEffect checks effect size limits and the reentrancy guard.
func validateEffect(in ir.Instruction) error {
	if in.Program == address.Engine() {
		return newError(CodeReentrancy, "effect calls may not target the engine")
	}
	limit := MaxEffectDataSize
	if in.Program == address.Program(program.MemoName) {
		limit = program.MaxMemoSize
	}
	if len(in.Data) > limit {
		return newError(CodeInvalidRequest, "effect data is %d bytes (max %d)", len(in.Data), limit)
	}
	if len(in.Accounts) > MaxAccounts {
		return newError(CodeInvalidRequest, "%d effect accounts exceeds %d", len(in.Accounts), MaxAccounts)
	}
	return nil
}

func validateDevice(d *DeviceRequest) error {
	if d == nil {
		return nil
	}
	return validatePasskey(d.Passkey, d.CredentialID)
}

func validatePasskey(key passkey.PublicKey, credentialID []byte) error {
	if _, err := passkey.ParsePublicKey(key.Bytes()); err != nil {
		return newError(CodeInvalidPasskey, "passkey is not a compressed P-256 point")
	}
	if len(credentialID) == 0 || len(credentialID) > MaxCredentialIDSize {
		return newError(CodeInvalidRequest, "credential id must be 1..%d bytes", MaxCredentialIDSize)
	}
	return nil
}

// validateTransaction checks the request boundary of Execute and Commit.
func validateTransaction(req TransactionRequest) (policyCall, effectCall ir.Instruction, err error) {
	if len(req.Accounts) > MaxAccounts {
		return policyCall, effectCall, newError(CodeInvalidRequest, "%d accounts exceeds %d", len(req.Accounts), MaxAccounts)
	}
	policyCall, effectCall, perr := req.Calls()
	if perr != nil {
		return policyCall, effectCall, newError(CodeSplitIndexOutOfRange,
			"split index %d out of range for %d accounts", req.SplitIndex, len(req.Accounts))
	}
	if err := validatePolicyData(req.PolicyData); err != nil {
		return policyCall, effectCall, err
	}
	if err := validateEffect(effectCall); err != nil {
		return policyCall, effectCall, err
	}
	return policyCall, effectCall, nil
}

func requestError(err error) error {
	return wrapError(CodeInvalidRequest, err, "malformed request")
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
