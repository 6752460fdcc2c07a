package passkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/go-webauthn/webauthn/protocol"
)

// SignatureSize is the length of a raw r‖s signature.
const SignatureSize = 64

var (
	// ErrInvalidSignature covers malformed, high-S and non-verifying signatures.
	ErrInvalidSignature = errors.New("invalid passkey signature")

	// ErrInvalidClientData covers clientDataJSON and authenticatorData that do
	// not describe a user-present assertion for an allowed origin.
	ErrInvalidClientData = errors.New("invalid webauthn client data")

	// ErrChallengeMismatch means the signed challenge is not the message the
	// engine reconstructed.
	ErrChallengeMismatch = errors.New("signed message does not match expected message")
)

var halfOrder = new(big.Int).Rsh(elliptic.P256().Params().N, 1)

// Assertion is a WebAuthn assertion as produced by navigator.credentials.get.
type Assertion struct {
	AuthenticatorData []byte `json:"authenticator_data"`
	ClientDataJSON    []byte `json:"client_data_json"`
	Signature         []byte `json:"signature"`
}

// SignedBytes returns authenticatorData ‖ sha256(clientDataJSON), the bytes
// covered by the signature.
func (a Assertion) SignedBytes() []byte {
	cdh := sha256.Sum256(a.ClientDataJSON)
	out := make([]byte, 0, len(a.AuthenticatorData)+len(cdh))
	out = append(out, a.AuthenticatorData...)
	out = append(out, cdh[:]...)
	return out
}

// Verifier checks passkey assertions against reconstructed messages.
type Verifier struct {
	origins []string
	keys    *KeyCache
}

// NewVerifier creates a Verifier accepting assertions from origins.
func NewVerifier(origins []string, keys *KeyCache) *Verifier {
	return &Verifier{origins: append([]string(nil), origins...), keys: keys}
}

// Origins returns the accepted origins.
func (v *Verifier) Origins() []string {
	return append([]string(nil), v.origins...)
}

// VerifyAssertion confirms that a was produced by key over expected.
//
// Checks, in order:
//  1. clientDataJSON is a webauthn.get ceremony from an allowed origin
//  2. its challenge is byte-for-byte base64url(expected)
//  3. authenticatorData is well formed with the user-present flag set
//  4. the signature is a low-S P-256 signature by key over
//     authenticatorData ‖ sha256(clientDataJSON)
func (v *Verifier) VerifyAssertion(key PublicKey, expected Message, a Assertion) error {
	challenge, err := expected.Challenge()
	if err != nil {
		return err
	}

	var cd protocol.CollectedClientData
	if err := json.Unmarshal(a.ClientDataJSON, &cd); err != nil {
		return fmt.Errorf("%w: client data is not JSON", ErrInvalidClientData)
	}
	if cd.Type != protocol.AssertCeremony {
		return fmt.Errorf("%w: ceremony %q", ErrInvalidClientData, cd.Type)
	}
	if cd.Challenge != challenge {
		return ErrChallengeMismatch
	}
	if err := cd.Verify(challenge, protocol.AssertCeremony, v.origins, nil, protocol.TopOriginIgnoreVerificationMode); err != nil {
		return fmt.Errorf("%w: origin not allowed", ErrInvalidClientData)
	}

	var ad protocol.AuthenticatorData
	if err := ad.Unmarshal(a.AuthenticatorData); err != nil {
		return fmt.Errorf("%w: authenticator data", ErrInvalidClientData)
	}
	if !ad.Flags.UserPresent() {
		return fmt.Errorf("%w: user presence flag not set", ErrInvalidClientData)
	}

	return v.VerifySignature(key, a.SignedBytes(), a.Signature)
}

// VerifySignature checks a raw 64-byte r‖s signature by key over
// sha256(msg).
func (v *Verifier) VerifySignature(key PublicKey, msg, sig []byte) error {
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: expected %d bytes", ErrInvalidSignature, SignatureSize)
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if r.Sign() == 0 || s.Sign() == 0 {
		return ErrInvalidSignature
	}
	if s.Cmp(halfOrder) > 0 {
		return fmt.Errorf("%w: high-S", ErrInvalidSignature)
	}

	pub, err := v.keys.Get(key)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(msg)
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return ErrInvalidSignature
	}
	return nil
}

// EncodeSignature packs (r, s) into 64 bytes, normalizing s to the low half
// of the curve order.
func EncodeSignature(r, s *big.Int) []byte {
	if s.Cmp(halfOrder) > 0 {
		s = new(big.Int).Sub(elliptic.P256().Params().N, s)
	}
	out := make([]byte, SignatureSize)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out
}
