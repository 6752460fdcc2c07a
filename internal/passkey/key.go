package passkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// PublicKeySize is the length of a compressed P-256 public key.
const PublicKeySize = 33

// DefaultKeyCacheSize bounds the parsed-key cache.
const DefaultKeyCacheSize = 1024

// ErrInvalidPasskey is returned for keys that are not compressed P-256 points.
var ErrInvalidPasskey = errors.New("invalid passkey public key")

// PublicKey is a compressed secp256r1 public key: 0x02|0x03 ‖ X.
type PublicKey [PublicKeySize]byte

// ParsePublicKey validates the prefix, length and curve membership of raw.
func ParsePublicKey(raw []byte) (PublicKey, error) {
	var pk PublicKey
	if len(raw) != PublicKeySize {
		return pk, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPasskey, PublicKeySize, len(raw))
	}
	if raw[0] != 0x02 && raw[0] != 0x03 {
		return pk, fmt.Errorf("%w: prefix must be 0x02 or 0x03", ErrInvalidPasskey)
	}
	copy(pk[:], raw)
	if _, err := pk.decompress(); err != nil {
		return PublicKey{}, err
	}
	return pk, nil
}

// ParsePublicKeyHex parses a hex-encoded compressed key.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPasskey, err)
	}
	return ParsePublicKey(raw)
}

// Bytes returns a copy of the compressed encoding.
func (k PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, k[:])
	return b
}

// String returns the hex encoding.
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKeyHex(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k PublicKey) decompress() (*ecdsa.PublicKey, error) {
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), k[:])
	if x == nil {
		return nil, fmt.Errorf("%w: point is not on P-256", ErrInvalidPasskey)
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// CompressPublicKey encodes an ECDSA P-256 key in compressed form.
func CompressPublicKey(pub *ecdsa.PublicKey) PublicKey {
	var pk PublicKey
	copy(pk[:], elliptic.MarshalCompressed(elliptic.P256(), pub.X, pub.Y))
	return pk
}

// KeyCache memoizes decompressed public keys. Point decompression costs a
// modular square root, and the same devices sign repeatedly.
type KeyCache struct {
	cache *lru.Cache
}

// NewKeyCache creates a cache holding at most size keys.
func NewKeyCache(size int) (*KeyCache, error) {
	if size <= 0 {
		size = DefaultKeyCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("key cache: %w", err)
	}
	return &KeyCache{cache: c}, nil
}

// Get returns the decompressed key, parsing and caching it on a miss.
func (c *KeyCache) Get(k PublicKey) (*ecdsa.PublicKey, error) {
	if v, ok := c.cache.Get(k); ok {
		return v.(*ecdsa.PublicKey), nil
	}
	pub, err := k.decompress()
	if err != nil {
		return nil, err
	}
	c.cache.Add(k, pub)
	return pub, nil
}

// Len reports how many keys are cached.
func (c *KeyCache) Len() int {
	return c.cache.Len()
}
