package passkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://wallet.example"

type testDevice struct {
	priv *ecdsa.PrivateKey
	pub  PublicKey
}

func newTestDevice(t *testing.T) *testDevice {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &testDevice{priv: priv, pub: CompressPublicKey(&priv.PublicKey)}
}

func authData(flags protocol.AuthenticatorFlags) []byte {
	rp := sha256.Sum256([]byte("wallet.example"))
	out := append([]byte(nil), rp[:]...)
	out = append(out, byte(flags))
	return append(out, 0, 0, 0, 1)
}

func (d *testDevice) assert(t *testing.T, m Message, origin string) Assertion {
	t.Helper()
	challenge, err := m.Challenge()
	require.NoError(t, err)
	cd, err := json.Marshal(protocol.CollectedClientData{
		Type:      protocol.AssertCeremony,
		Challenge: challenge,
		Origin:    origin,
	})
	require.NoError(t, err)

	a := Assertion{AuthenticatorData: authData(protocol.FlagUserPresent), ClientDataJSON: cd}
	a.Signature = d.sign(t, a.SignedBytes())
	return a
}

func (d *testDevice) sign(t *testing.T, msg []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(msg)
	r, s, err := ecdsa.Sign(rand.Reader, d.priv, digest[:])
	require.NoError(t, err)
	return EncodeSignature(r, s)
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	keys, err := NewKeyCache(8)
	require.NoError(t, err)
	return NewVerifier([]string{testOrigin}, keys)
}

func sampleMessage() Message {
	return Message{
		Kind:           KindExecute,
		Nonce:          3,
		Timestamp:      1_700_000_000,
		SplitIndex:     1,
		PolicyDataHash: sha256.Sum256([]byte("policy")),
		EffectDataHash: sha256.Sum256([]byte("effect")),
	}
}

func TestVerifyAssertion_Valid(t *testing.T) {
	d := newTestDevice(t)
	v := newTestVerifier(t)
	m := sampleMessage()

	require.NoError(t, v.VerifyAssertion(d.pub, m, d.assert(t, m, testOrigin)))
	assert.Equal(t, 1, v.keys.Len())
}

func TestVerifyAssertion_ChallengeMismatch(t *testing.T) {
	d := newTestDevice(t)
	v := newTestVerifier(t)
	m := sampleMessage()
	a := d.assert(t, m, testOrigin)

	replayed := m
	replayed.Nonce++
	err := v.VerifyAssertion(d.pub, replayed, a)
	assert.ErrorIs(t, err, ErrChallengeMismatch)
}

func TestVerifyAssertion_WrongKey(t *testing.T) {
	d := newTestDevice(t)
	other := newTestDevice(t)
	v := newTestVerifier(t)
	m := sampleMessage()

	err := v.VerifyAssertion(other.pub, m, d.assert(t, m, testOrigin))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyAssertion_OriginRejected(t *testing.T) {
	d := newTestDevice(t)
	v := newTestVerifier(t)
	m := sampleMessage()

	err := v.VerifyAssertion(d.pub, m, d.assert(t, m, "https://evil.example"))
	assert.ErrorIs(t, err, ErrInvalidClientData)
}

func TestVerifyAssertion_RequiresUserPresence(t *testing.T) {
	d := newTestDevice(t)
	v := newTestVerifier(t)
	m := sampleMessage()
	a := d.assert(t, m, testOrigin)
	a.AuthenticatorData = authData(0)
	a.Signature = d.sign(t, a.SignedBytes())

	err := v.VerifyAssertion(d.pub, m, a)
	assert.ErrorIs(t, err, ErrInvalidClientData)
}

func TestVerifyAssertion_RejectsCreateCeremony(t *testing.T) {
	d := newTestDevice(t)
	v := newTestVerifier(t)
	m := sampleMessage()
	challenge, err := m.Challenge()
	require.NoError(t, err)
	cd, err := json.Marshal(protocol.CollectedClientData{Type: protocol.CreateCeremony, Challenge: challenge, Origin: testOrigin})
	require.NoError(t, err)
	a := Assertion{AuthenticatorData: authData(protocol.FlagUserPresent), ClientDataJSON: cd}
	a.Signature = d.sign(t, a.SignedBytes())

	assert.ErrorIs(t, v.VerifyAssertion(d.pub, m, a), ErrInvalidClientData)
}

func TestVerifySignature_RejectsHighS(t *testing.T) {
	d := newTestDevice(t)
	v := newTestVerifier(t)
	msg := []byte("hello")
	sig := d.sign(t, msg)
	require.NoError(t, v.VerifySignature(d.pub, msg, sig))

	s := new(big.Int).SetBytes(sig[32:])
	high := new(big.Int).Sub(elliptic.P256().Params().N, s)
	malleated := append([]byte(nil), sig[:32]...)
	malleated = append(malleated, high.FillBytes(make([]byte, 32))...)

	assert.ErrorIs(t, v.VerifySignature(d.pub, msg, malleated), ErrInvalidSignature)
}

func TestVerifySignature_RejectsBadLength(t *testing.T) {
	d := newTestDevice(t)
	v := newTestVerifier(t)
	assert.ErrorIs(t, v.VerifySignature(d.pub, []byte("x"), make([]byte, 63)), ErrInvalidSignature)
	assert.ErrorIs(t, v.VerifySignature(d.pub, []byte("x"), make([]byte, 64)), ErrInvalidSignature)
}

func TestParsePublicKey(t *testing.T) {
	d := newTestDevice(t)
	parsed, err := ParsePublicKey(d.pub[:])
	require.NoError(t, err)
	assert.Equal(t, d.pub, parsed)

	bad := d.pub
	bad[0] = 0x04
	_, err = ParsePublicKey(bad[:])
	assert.ErrorIs(t, err, ErrInvalidPasskey)

	_, err = ParsePublicKey(d.pub[:32])
	assert.ErrorIs(t, err, ErrInvalidPasskey)

	offCurve := PublicKey{0x02}
	for i := 1; i < PublicKeySize; i++ {
		offCurve[i] = 0xff
	}
	_, err = ParsePublicKey(offCurve[:])
	assert.ErrorIs(t, err, ErrInvalidPasskey)
}

func TestMessage_BinaryRoundTrip(t *testing.T) {
	for _, kind := range Kinds {
		m := sampleMessage()
		m.Kind = kind
		m.Timestamp = -5

		raw, err := m.MarshalBinary()
		require.NoError(t, err)
		require.Len(t, raw, MessageSize)

		var got Message
		require.NoError(t, got.UnmarshalBinary(raw))
		assert.Equal(t, m, got)
	}
}

func TestMessage_DiscriminatorSeparatesKinds(t *testing.T) {
	m := sampleMessage()
	a, err := m.MarshalBinary()
	require.NoError(t, err)
	m.Kind = KindCommit
	b, err := m.MarshalBinary()
	require.NoError(t, err)

	assert.NotEqual(t, a[:8], b[:8])
	assert.Equal(t, a[8:], b[8:])

	_, err = Message{Kind: "bogus"}.MarshalBinary()
	assert.ErrorIs(t, err, ErrMalformedMessage)
	assert.ErrorIs(t, new(Message).UnmarshalBinary(make([]byte, MessageSize)), ErrMalformedMessage)
}
