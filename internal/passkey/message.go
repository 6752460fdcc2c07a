package passkey

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
)

// MessageSize is the encoded length of every Message.
const MessageSize = 8 + 8 + 8 + 2 + 4*32

// Kind names the action a message authorizes. It selects the discriminator
// and the meaning of the two hash pairs.
type Kind string

const (
	KindExecute      Kind = "execute"
	KindInvokePolicy Kind = "invoke_policy"
	KindChangePolicy Kind = "change_policy"
	KindCommit       Kind = "commit"
)

// Kinds lists every message kind.
var Kinds = []Kind{KindExecute, KindInvokePolicy, KindChangePolicy, KindCommit}

// ErrMalformedMessage is returned when decoding a message fails.
var ErrMalformedMessage = errors.New("malformed message")

// Discriminator returns the 8-byte type tag that prefixes messages of kind k.
func (k Kind) Discriminator() [8]byte {
	sum := sha256.Sum256([]byte("passvault:message:" + string(k)))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Message is the payload a passkey signs, carried as the WebAuthn challenge.
//
// Layout (little-endian integers):
//
//	discriminator[8] nonce u64 timestamp i64 split_index u16
//	policy_data_hash[32] policy_accounts_hash[32]
//	effect_data_hash[32] effect_accounts_hash[32]
//
// For change_policy the policy pair binds the destroy call and the effect
// pair binds the init call.
type Message struct {
	Kind               Kind
	Nonce              uint64
	Timestamp          int64
	SplitIndex         uint16
	PolicyDataHash     [32]byte
	PolicyAccountsHash [32]byte
	EffectDataHash     [32]byte
	EffectAccountsHash [32]byte
}

// MarshalBinary encodes m in its fixed layout.
func (m Message) MarshalBinary() ([]byte, error) {
	if !validKind(m.Kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, m.Kind)
	}
	buf := make([]byte, 0, MessageSize)
	d := m.Kind.Discriminator()
	buf = append(buf, d[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, m.Nonce)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.Timestamp))
	buf = binary.LittleEndian.AppendUint16(buf, m.SplitIndex)
	buf = append(buf, m.PolicyDataHash[:]...)
	buf = append(buf, m.PolicyAccountsHash[:]...)
	buf = append(buf, m.EffectDataHash[:]...)
	buf = append(buf, m.EffectAccountsHash[:]...)
	return buf, nil
}

// UnmarshalBinary decodes a message and resolves its kind from the
// discriminator.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) != MessageSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedMessage, MessageSize, len(data))
	}
	kind, ok := kindFor(data[:8])
	if !ok {
		return fmt.Errorf("%w: unknown discriminator", ErrMalformedMessage)
	}
	m.Kind = kind
	m.Nonce = binary.LittleEndian.Uint64(data[8:16])
	m.Timestamp = int64(binary.LittleEndian.Uint64(data[16:24]))
	m.SplitIndex = binary.LittleEndian.Uint16(data[24:26])
	off := 26
	for _, dst := range []*[32]byte{&m.PolicyDataHash, &m.PolicyAccountsHash, &m.EffectDataHash, &m.EffectAccountsHash} {
		copy(dst[:], data[off:off+32])
		off += 32
	}
	return nil
}

// Challenge returns the base64url (unpadded) encoding a client places in
// clientDataJSON.challenge.
func (m Message) Challenge() (string, error) {
	raw, err := m.MarshalBinary()
	if err != nil {
		return "", err
	}
	return protocol.URLEncodedBase64(raw).String(), nil
}

func validKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

func kindFor(disc []byte) (Kind, bool) {
	for _, k := range Kinds {
		d := k.Discriminator()
		if bytes.Equal(disc, d[:]) {
			return k, true
		}
	}
	return "", false
}
