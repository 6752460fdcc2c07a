package address

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/passvault/internal/ir"
)

func TestDerive_Deterministic(t *testing.T) {
	a := Derive("wallet", []byte{1, 2, 3})
	b := Derive("wallet", []byte{1, 2, 3})
	assert.Equal(t, a, b)
	assert.False(t, a.IsZero())
}

func TestDerive_TagSeparatesDomains(t *testing.T) {
	seed := []byte("same-seed")
	assert.NotEqual(t, Derive("wallet", seed), Derive("commit", seed))
}

func TestDerive_SeedBoundaries(t *testing.T) {
	assert.NotEqual(t,
		Derive("x", []byte("ab"), []byte("c")),
		Derive("x", []byte("a"), []byte("bc")),
	)
	assert.NotEqual(t,
		Derive("x", []byte("abc")),
		Derive("x", []byte("ab"), []byte("c")),
	)
	assert.NotEqual(t, Derive("x"), Derive("x", nil))
}

func TestWallet_DistinctIDs(t *testing.T) {
	seen := map[ir.Address]uint64{}
	for id := uint64(1); id <= 256; id++ {
		addr := Wallet(id)
		_, dup := seen[addr]
		assert.False(t, dup, "collision for wallet id %d", id)
		seen[addr] = id
	}
	assert.NotEqual(t, Wallet(1), WalletState(Wallet(1)))
}

func TestAuthenticator_BindsKeyAndWallet(t *testing.T) {
	key := make([]byte, 33)
	key[0] = 0x02
	w1 := Wallet(1)
	w2 := Wallet(2)

	a1 := Authenticator(w1, key)
	assert.Equal(t, a1, Authenticator(w1, key))
	assert.NotEqual(t, a1, Authenticator(w2, key))

	other := append([]byte(nil), key...)
	other[32] = 1
	assert.NotEqual(t, a1, Authenticator(w1, other))

	h := sha256.Sum256(append(append([]byte(nil), key...), w1[:]...))
	assert.Equal(t, h[:], PasskeyHash(w1, key))
	assert.Equal(t, Derive(TagAuthenticator, w1[:], h[:]), a1)
}

func TestCommit_KeyedByNonce(t *testing.T) {
	w := Wallet(7)
	assert.NotEqual(t, Commit(w, 0), Commit(w, 1))
	assert.NotEqual(t, Commit(w, 0), Commit(Wallet(8), 0))
}

func TestProgram_EngineIsReserved(t *testing.T) {
	assert.Equal(t, Program("passvault"), Engine())
	assert.NotEqual(t, Engine(), Program("system"))
	assert.NotEqual(t, PolicyRecord(Program("default"), Wallet(1)), PolicyRecord(Program("transfer_limit"), Wallet(1)))
}
