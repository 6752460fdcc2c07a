package ir

import "fmt"

// AccountMeta describes one account reference passed to a call.
type AccountMeta struct {
	Key        Address `json:"key"`
	IsSigner   bool    `json:"is_signer,omitempty"`
	IsWritable bool    `json:"is_writable,omitempty"`
}

// Instruction is a typed call descriptor: a target module, the accounts it
// may touch and an opaque payload.
type Instruction struct {
	Program  Address       `json:"program"`
	Accounts []AccountMeta `json:"accounts"`
	Data     []byte        `json:"data"`
}

// DataHash returns sha256(Data).
func (in Instruction) DataHash() [32]byte {
	return DataHash(in.Data)
}

// AccountsHash returns the access-pattern hash of the instruction.
func (in Instruction) AccountsHash() [32]byte {
	return AccountsHash(in.Program, in.Accounts)
}

// Partition splits a flat account list at split. The first split entries
// belong to the policy call and the remainder to the effect call.
// The returned slices are never nil and never alias each other's capacity.
func Partition(accounts []AccountMeta, split int) (policy, effect []AccountMeta, err error) {
	if split < 0 || split > len(accounts) {
		return nil, nil, fmt.Errorf("split index %d out of range for %d accounts", split, len(accounts))
	}
	policy = append(make([]AccountMeta, 0, split), accounts[:split]...)
	effect = append(make([]AccountMeta, 0, len(accounts)-split), accounts[split:]...)
	return policy, effect, nil
}

// Flatten is the inverse of Partition. It returns the flat list and the split
// index a client submits on the wire.
func Flatten(policy, effect []AccountMeta) ([]AccountMeta, int) {
	out := make([]AccountMeta, 0, len(policy)+len(effect))
	out = append(out, policy...)
	out = append(out, effect...)
	return out, len(policy)
}
