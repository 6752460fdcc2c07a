package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for hashes computed over canonical JSON.
// Version suffix enables future algorithm migration.
const (
	DomainEvent = "passvault/event/v1"
)

// GenesisHash is the prev_hash of the first event in the log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DataHash returns sha256(data). It binds call payloads inside signed
// messages and commit records.
func DataHash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// AccountsHash returns sha256(program ‖ Σ(key ‖ is_writable ‖ is_signer)).
// Account order is significant.
func AccountsHash(program Address, accounts []AccountMeta) [32]byte {
	h := sha256.New()
	h.Write(program[:])
	for _, acc := range accounts {
		h.Write(acc.Key[:])
		h.Write([]byte{boolByte(acc.IsWritable), boolByte(acc.IsSigner)})
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// EventHash chains an event onto the log. payload is the event's canonical
// JSON encoding. The wallet and creation time are covered so a moved or
// backdated entry breaks the chain like an edited payload does.
func EventHash(prevHash, kind string, seq int64, wallet Address, createdAt int64, payload []byte) string {
	sum := sha256.Sum256(payload)
	obj := map[string]any{
		"prev_hash":      prevHash,
		"kind":           kind,
		"seq":            seq,
		"wallet":         wallet,
		"created_at":     createdAt,
		"payload_sha256": sum,
	}
	return hashWithDomain(DomainEvent, MustMarshalCanonical(obj))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
