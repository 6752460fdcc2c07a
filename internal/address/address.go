// Package address derives deterministic account addresses.
//
// Every address is a pure function of a purpose tag and seed bytes, so a
// client holding the same seed material computes the same address with no
// round trip to the engine.
package address

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/roach88/passvault/internal/ir"
)

// domain prefixes every derivation. Version suffix enables future migration.
const domain = "passvault/address/v1"

// Purpose tags.
const (
	TagWallet        = "wallet"
	TagWalletState   = "wallet_state"
	TagAuthenticator = "authenticator"
	TagCommit        = "commit"
	TagPolicyRecord  = "policy_record"
	TagProgram       = "program"
	TagConfig        = "config"
	TagWhitelist     = "whitelist"
)

// Derive maps (tag, seeds) to an address:
//
//	sha256(domain ‖ 0x00 ‖ tag ‖ 0x00 ‖ Σ(u32be(len(seed)) ‖ seed))
//
// Each seed is length-prefixed so ("ab","c") and ("a","bc") never encode
// the same bytes.
func Derive(tag string, seeds ...[]byte) ir.Address {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write([]byte(tag))
	h.Write([]byte{0x00})
	var n [4]byte
	for _, seed := range seeds {
		binary.BigEndian.PutUint32(n[:], uint32(len(seed)))
		h.Write(n[:])
		h.Write(seed)
	}
	var out ir.Address
	copy(out[:], h.Sum(nil))
	return out
}

// Wallet returns the funds-holding address for a wallet identifier.
func Wallet(walletID uint64) ir.Address {
	return Derive(TagWallet, u64le(walletID))
}

// WalletState returns the companion state address of a wallet.
func WalletState(wallet ir.Address) ir.Address {
	return Derive(TagWalletState, wallet[:])
}

// Authenticator returns the address of a passkey device registered to wallet:
// derive("authenticator", wallet, sha256(pubkey ‖ wallet)).
func Authenticator(wallet ir.Address, pubkey []byte) ir.Address {
	return Derive(TagAuthenticator, wallet[:], PasskeyHash(wallet, pubkey))
}

// PasskeyHash returns sha256(pubkey ‖ wallet).
func PasskeyHash(wallet ir.Address, pubkey []byte) []byte {
	h := sha256.New()
	h.Write(pubkey)
	h.Write(wallet[:])
	return h.Sum(nil)
}

// Commit returns the address of the commit record authorized at nonce.
func Commit(wallet ir.Address, nonce uint64) ir.Address {
	return Derive(TagCommit, wallet[:], u64le(nonce))
}

// PolicyRecord returns a module-owned record address. seed is a wallet or
// an authenticator address.
func PolicyRecord(module, seed ir.Address) ir.Address {
	return Derive(TagPolicyRecord, module[:], seed[:])
}

// Program returns the identity of a built-in module by name.
func Program(name string) ir.Address {
	return Derive(TagProgram, []byte(name))
}

// Engine is the engine's own identity. Effect calls may never target it.
func Engine() ir.Address {
	return Program("passvault")
}

// Config returns the address of the global configuration singleton.
func Config() ir.Address {
	return Derive(TagConfig)
}

// Whitelist returns the address of the whitelist registry singleton.
func Whitelist() ir.Address {
	return Derive(TagWhitelist)
}

func u64le(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
