package ir

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressSize is the byte length of every address.
const AddressSize = 32

// Address identifies an account, a module or a record.
type Address [AddressSize]byte

// ZeroAddress is the all-zero address. It never identifies a live account.
var ZeroAddress Address

// ParseAddress decodes a 64-character hex string (optional 0x prefix).
func ParseAddress(s string) (Address, error) {
	var a Address
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(raw) != AddressSize*2 {
		return a, fmt.Errorf("address must be %d hex characters, got %d", AddressSize*2, len(raw))
	}
	if _, err := hex.Decode(a[:], []byte(raw)); err != nil {
		return a, fmt.Errorf("address: %w", err)
	}
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Use only in tests or for compile-time constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the lowercase hex form.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first 8 hex characters, for logs and tables.
func (a Address) Short() string {
	return a.String()[:8]
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddressFromBytes copies b into an Address. b must be exactly 32 bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressSize {
		return a, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(b))
	}
	copy(a[:], b)
	return a, nil
}
