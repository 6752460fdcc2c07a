package engine

import (
	"crypto/sha256"

	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/passkey"
)

// Auth is the passkey authentication attached to a wallet request.
type Auth struct {
	// Passkey identifies the signing device; its authenticator address is
	// derived from (wallet, passkey).
	Passkey passkey.PublicKey `json:"passkey"`

	// Nonce is the wallet nonce the client signed over.
	Nonce uint64 `json:"nonce"`

	// Timestamp is the unix-second time the client signed at.
	Timestamp int64 `json:"timestamp"`

	Assertion passkey.Assertion `json:"assertion"`
}

// TransactionRequest is a policy call plus an effect call sharing one flat
// account list. The first SplitIndex accounts belong to the policy call.
// It is the request of both Execute and Commit.
type TransactionRequest struct {
	Wallet        ir.Address       `json:"wallet"`
	Payer         ir.Address       `json:"payer"`
	Auth          Auth             `json:"auth"`
	PolicyProgram ir.Address       `json:"policy_program"`
	PolicyData    []byte           `json:"policy_data"`
	EffectProgram ir.Address       `json:"effect_program"`
	EffectData    []byte           `json:"effect_data"`
	Accounts      []ir.AccountMeta `json:"accounts"`
	SplitIndex    uint16           `json:"split_index"`
}

// Calls splits the request into its policy and effect instructions.
func (r TransactionRequest) Calls() (policyCall, effectCall ir.Instruction, err error) {
	pa, ea, err := ir.Partition(r.Accounts, int(r.SplitIndex))
	if err != nil {
		return ir.Instruction{}, ir.Instruction{}, err
	}
	policyCall = ir.Instruction{Program: r.PolicyProgram, Accounts: pa, Data: r.PolicyData}
	effectCall = ir.Instruction{Program: r.EffectProgram, Accounts: ea, Data: r.EffectData}
	return policyCall, effectCall, nil
}

// Message returns the message a client signs for kind (KindExecute or
// KindCommit) at r.Auth.Nonce.
func (r TransactionRequest) Message(kind passkey.Kind) (passkey.Message, error) {
	return r.message(kind, r.Auth.Nonce)
}

func (r TransactionRequest) message(kind passkey.Kind, nonce uint64) (passkey.Message, error) {
	pc, ec, err := r.Calls()
	if err != nil {
		return passkey.Message{}, err
	}
	return passkey.Message{
		Kind:               kind,
		Nonce:              nonce,
		Timestamp:          r.Auth.Timestamp,
		SplitIndex:         r.SplitIndex,
		PolicyDataHash:     pc.DataHash(),
		PolicyAccountsHash: pc.AccountsHash(),
		EffectDataHash:     ec.DataHash(),
		EffectAccountsHash: ec.AccountsHash(),
	}, nil
}

// DeviceRequest registers a new passkey.
type DeviceRequest struct {
	Passkey      passkey.PublicKey `json:"passkey"`
	CredentialID []byte            `json:"credential_id"`
}

// descriptorHash is sha256(passkey ‖ credential_id), zero when d is nil.
func (d *DeviceRequest) descriptorHash() [32]byte {
	if d == nil {
		return [32]byte{}
	}
	h := sha256.New()
	h.Write(d.Passkey.Bytes())
	h.Write(d.CredentialID)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// InvokePolicyRequest is a mutate call on the wallet's active policy.
type InvokePolicyRequest struct {
	Wallet        ir.Address       `json:"wallet"`
	Payer         ir.Address       `json:"payer"`
	Auth          Auth             `json:"auth"`
	PolicyProgram ir.Address       `json:"policy_program"`
	PolicyData    []byte           `json:"policy_data"`
	Accounts      []ir.AccountMeta `json:"accounts"`
	NewDevice     *DeviceRequest   `json:"new_device,omitempty"`
	RemoveDevice  *ir.Address      `json:"remove_device,omitempty"`
}

// Message returns the message a client signs at r.Auth.Nonce.
//
// The effect slots bind the device change: the data hash is the new
// device descriptor hash and the accounts hash is the removed
// authenticator address. Both are zero when absent.
func (r InvokePolicyRequest) Message() passkey.Message {
	return r.message(r.Auth.Nonce)
}

func (r InvokePolicyRequest) message(nonce uint64) passkey.Message {
	m := passkey.Message{
		Kind:               passkey.KindInvokePolicy,
		Nonce:              nonce,
		Timestamp:          r.Auth.Timestamp,
		SplitIndex:         uint16(len(r.Accounts)),
		PolicyDataHash:     ir.DataHash(r.PolicyData),
		PolicyAccountsHash: ir.AccountsHash(r.PolicyProgram, r.Accounts),
		EffectDataHash:     r.NewDevice.descriptorHash(),
	}
	if r.RemoveDevice != nil {
		m.EffectAccountsHash = *r.RemoveDevice
	}
	return m
}

// ChangePolicyRequest atomically replaces the wallet's active policy.
// Accounts[:SplitIndex] go to the destroy call on OldPolicy and the rest
// to the init call on NewPolicy.
type ChangePolicyRequest struct {
	Wallet      ir.Address       `json:"wallet"`
	Payer       ir.Address       `json:"payer"`
	Auth        Auth             `json:"auth"`
	OldPolicy   ir.Address       `json:"old_policy"`
	NewPolicy   ir.Address       `json:"new_policy"`
	DestroyData []byte           `json:"destroy_data"`
	InitData    []byte           `json:"init_data"`
	Accounts    []ir.AccountMeta `json:"accounts"`
	SplitIndex  uint16           `json:"split_index"`
	NewDevice   *DeviceRequest   `json:"new_device,omitempty"`
}

// Calls splits the request into its destroy and init instructions.
func (r ChangePolicyRequest) Calls() (destroy, initCall ir.Instruction, err error) {
	da, ia, err := ir.Partition(r.Accounts, int(r.SplitIndex))
	if err != nil {
		return ir.Instruction{}, ir.Instruction{}, err
	}
	destroy = ir.Instruction{Program: r.OldPolicy, Accounts: da, Data: r.DestroyData}
	initCall = ir.Instruction{Program: r.NewPolicy, Accounts: ia, Data: r.InitData}
	return destroy, initCall, nil
}

// Message returns the message a client signs at r.Auth.Nonce.
//
// With a new device, the init data hash covers
// sha256(init_data) ‖ descriptor hash instead of the bare data hash.
func (r ChangePolicyRequest) Message() (passkey.Message, error) {
	return r.message(r.Auth.Nonce)
}

func (r ChangePolicyRequest) message(nonce uint64) (passkey.Message, error) {
	destroy, initCall, err := r.Calls()
	if err != nil {
		return passkey.Message{}, err
	}
	initHash := initCall.DataHash()
	if r.NewDevice != nil {
		d := r.NewDevice.descriptorHash()
		initHash = ir.DataHash(append(initHash[:], d[:]...))
	}
	return passkey.Message{
		Kind:               passkey.KindChangePolicy,
		Nonce:              nonce,
		Timestamp:          r.Auth.Timestamp,
		SplitIndex:         r.SplitIndex,
		PolicyDataHash:     destroy.DataHash(),
		PolicyAccountsHash: destroy.AccountsHash(),
		EffectDataHash:     initHash,
		EffectAccountsHash: initCall.AccountsHash(),
	}, nil
}

// CreateWalletRequest creates a wallet with its first authenticator.
type CreateWalletRequest struct {
	Payer          ir.Address        `json:"payer"`
	WalletID       uint64            `json:"wallet_id"`
	Passkey        passkey.PublicKey `json:"passkey"`
	CredentialID   []byte            `json:"credential_id"`
	Policy         *ir.Address       `json:"policy,omitempty"` // nil selects the default policy
	PolicyData     []byte            `json:"policy_data"`
	PolicyAccounts []ir.AccountMeta  `json:"policy_accounts"`
	Amount         uint64            `json:"amount"`
	PayForUser     bool              `json:"pay_for_user"`
}

// ExecuteCommittedRequest executes a previously committed effect. It needs
// no signature; the commit record is the authorization.
type ExecuteCommittedRequest struct {
	Wallet        ir.Address       `json:"wallet"`
	Nonce         uint64           `json:"nonce"`
	Payer         ir.Address       `json:"payer"`
	EffectProgram ir.Address       `json:"effect_program"`
	EffectData    []byte           `json:"effect_data"`
	Accounts      []ir.AccountMeta `json:"accounts"`
}

// Instruction returns the effect call being executed.
func (r ExecuteCommittedRequest) Instruction() ir.Instruction {
	return ir.Instruction{Program: r.EffectProgram, Accounts: r.Accounts, Data: r.EffectData}
}

// InitializeRequest creates the global configuration.
type InitializeRequest struct {
	Authority       ir.Address   `json:"authority"`
	DefaultPolicy   ir.Address   `json:"default_policy"`
	CommitTTL       int64        `json:"commit_ttl"`
	MaxMessageAge   int64        `json:"max_message_age"`
	CreateWalletFee uint64       `json:"create_wallet_fee"`
	ExecuteFee      uint64       `json:"execute_fee"`
	Whitelist       []ir.Address `json:"whitelist"` // in addition to DefaultPolicy
}
