package ir

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountsHash_Layout(t *testing.T) {
	program := Address{1}
	a := Address{2}
	b := Address{3}
	metas := []AccountMeta{
		{Key: a, IsSigner: true, IsWritable: true},
		{Key: b, IsWritable: true},
	}

	var raw []byte
	raw = append(raw, program[:]...)
	raw = append(raw, a[:]...)
	raw = append(raw, 1, 1)
	raw = append(raw, b[:]...)
	raw = append(raw, 1, 0)

	assert.Equal(t, sha256.Sum256(raw), AccountsHash(program, metas))
}

func TestAccountsHash_OrderAndFlagsMatter(t *testing.T) {
	program := Address{9}
	a := AccountMeta{Key: Address{1}, IsWritable: true}
	b := AccountMeta{Key: Address{2}}

	base := AccountsHash(program, []AccountMeta{a, b})
	assert.NotEqual(t, base, AccountsHash(program, []AccountMeta{b, a}))

	flipped := a
	flipped.IsSigner = true
	assert.NotEqual(t, base, AccountsHash(program, []AccountMeta{flipped, b}))
	assert.NotEqual(t, base, AccountsHash(Address{8}, []AccountMeta{a, b}))
}

func TestEventHash_Deterministic(t *testing.T) {
	payload := MustMarshalCanonical(map[string]any{"wallet": Address{1}, "nonce": uint64(3)})

	h1 := EventHash(GenesisHash, "TransactionExecuted", 1, Address{1}, 100, payload)
	h2 := EventHash(GenesisHash, "TransactionExecuted", 1, Address{1}, 100, payload)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestEventHash_ChainsOnPrevious(t *testing.T) {
	payload := []byte(`{"n":1}`)
	h1 := EventHash(GenesisHash, "Deposit", 1, Address{}, 100, payload)
	assert.NotEqual(t, h1, EventHash(h1, "Deposit", 1, Address{}, 100, payload))
	assert.NotEqual(t, h1, EventHash(GenesisHash, "Deposit", 2, Address{}, 100, payload))
	assert.NotEqual(t, h1, EventHash(GenesisHash, "Deposit", 1, Address{}, 100, []byte(`{"n":2}`)))
}

func TestEventHash_CoversWalletAndTime(t *testing.T) {
	payload := []byte(`{"n":1}`)
	h1 := EventHash(GenesisHash, "TransactionExecuted", 1, Address{1}, 100, payload)
	assert.NotEqual(t, h1, EventHash(GenesisHash, "TransactionExecuted", 1, Address{2}, 100, payload), "wallet")
	assert.NotEqual(t, h1, EventHash(GenesisHash, "TransactionExecuted", 1, Address{}, 100, payload), "global event")
	assert.NotEqual(t, h1, EventHash(GenesisHash, "TransactionExecuted", 1, Address{1}, 99, payload), "created_at")
}

func TestPartition(t *testing.T) {
	accounts := []AccountMeta{{Key: Address{1}}, {Key: Address{2}}, {Key: Address{3}}}

	for s := 0; s <= len(accounts); s++ {
		policy, effect, err := Partition(accounts, s)
		require.NoError(t, err)
		assert.Equal(t, accounts[:s], policy)
		assert.Len(t, effect, len(accounts)-s)
		assert.Equal(t, accounts[s:], effect)

		flat, split := Flatten(policy, effect)
		assert.Equal(t, accounts, flat)
		assert.Equal(t, s, split)
	}

	policy, effect, err := Partition(nil, 0)
	require.NoError(t, err)
	assert.NotNil(t, policy)
	assert.NotNil(t, effect)
	assert.Empty(t, policy)
	assert.Empty(t, effect)

	_, _, err = Partition(accounts, 4)
	require.Error(t, err)
	_, _, err = Partition(accounts, -1)
	require.Error(t, err)
}

func TestParseAddress_RoundTrip(t *testing.T) {
	a := Address{0xde, 0xad}
	parsed, err := ParseAddress("0x" + a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	_, err = ParseAddress("abc")
	require.Error(t, err)
	_, err = ParseAddress(string(make([]byte, 64)))
	require.Error(t, err)
}
