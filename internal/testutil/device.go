package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/roach88/passvault/internal/passkey"
)

// DefaultOrigin is the origin Device assertions claim unless overridden.
const DefaultOrigin = "https://wallet.passvault.test"

// DefaultRPID is the relying party id hashed into authenticator data.
const DefaultRPID = "wallet.passvault.test"

// Device is a deterministic P-256 passkey for tests.
//
// The private scalar is derived from a seed, so the same seed always yields
// the same public key and therefore the same authenticator address.
// Signatures use crypto/rand and are not reproducible; nothing that is
// golden-compared includes them.
type Device struct {
	priv         *ecdsa.PrivateKey
	Key          passkey.PublicKey
	CredentialID []byte
	Origin       string
	signCount    uint32
}

// NewDevice derives a device from seed.
func NewDevice(seed string) *Device {
	curve := elliptic.P256()
	n := curve.Params().N

	h := sha256.Sum256([]byte("passvault/testutil/device\x00" + seed))
	d := new(big.Int).SetBytes(h[:])
	d.Mod(d, new(big.Int).Sub(n, big.NewInt(1)))
	d.Add(d, big.NewInt(1))

	priv := &ecdsa.PrivateKey{D: d}
	priv.PublicKey.Curve = curve
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.FillBytes(make([]byte, 32)))

	cred := sha256.Sum256([]byte("credential\x00" + seed))
	return &Device{
		priv:         priv,
		Key:          passkey.CompressPublicKey(&priv.PublicKey),
		CredentialID: cred[:16],
		Origin:       DefaultOrigin,
	}
}

// AuthenticatorData returns rpIdHash ‖ flags(UP|UV) ‖ signCount.
func (d *Device) AuthenticatorData() []byte {
	d.signCount++
	rp := sha256.Sum256([]byte(DefaultRPID))
	out := append([]byte(nil), rp[:]...)
	out = append(out, byte(protocol.FlagUserPresent|protocol.FlagUserVerified))
	return binary.BigEndian.AppendUint32(out, d.signCount)
}

// Sign produces a WebAuthn assertion over m.
func (d *Device) Sign(m passkey.Message) (passkey.Assertion, error) {
	challenge, err := m.Challenge()
	if err != nil {
		return passkey.Assertion{}, err
	}
	cd, err := json.Marshal(protocol.CollectedClientData{
		Type:      protocol.AssertCeremony,
		Challenge: challenge,
		Origin:    d.Origin,
	})
	if err != nil {
		return passkey.Assertion{}, err
	}
	a := passkey.Assertion{AuthenticatorData: d.AuthenticatorData(), ClientDataJSON: cd}
	digest := sha256.Sum256(a.SignedBytes())
	r, s, err := ecdsa.Sign(rand.Reader, d.priv, digest[:])
	if err != nil {
		return passkey.Assertion{}, fmt.Errorf("sign assertion: %w", err)
	}
	a.Signature = passkey.EncodeSignature(r, s)
	return a, nil
}

// MustSign is Sign for tests; it panics on error.
func (d *Device) MustSign(m passkey.Message) passkey.Assertion {
	a, err := d.Sign(m)
	if err != nil {
		panic(err)
	}
	return a
}
