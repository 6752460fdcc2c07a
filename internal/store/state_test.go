package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/passvault/internal/ir"
)

func addr(b byte) ir.Address {
	var a ir.Address
	a[0] = b
	a[31] = b
	return a
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedWallet(t *testing.T, s *Store, b byte) Wallet {
	t.Helper()
	w := Wallet{
		Address:      addr(b),
		WalletID:     uint64(b),
		StateAddress: addr(b + 100),
		Policy:       addr(200),
		Owner:        addr(201),
		CreatedAt:    10,
	}
	require.NoError(t, s.InsertWallet(context.Background(), w))
	return w
}

func TestConfig_InsertGetUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetConfig(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	cfg := Config{
		Authority:       addr(1),
		DefaultPolicy:   addr(2),
		CommitTTL:       600,
		MaxMessageAge:   300,
		CreateWalletFee: 5,
		ExecuteFee:      1,
		UpdatedAt:       100,
	}
	require.NoError(t, s.InsertConfig(ctx, cfg))
	require.ErrorIs(t, s.InsertConfig(ctx, cfg), ErrConflict)

	got, err := s.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	cfg.Paused = true
	cfg.ExecuteFee = 9
	require.NoError(t, s.UpdateConfig(ctx, cfg))
	got, err = s.GetConfig(ctx)
	require.NoError(t, err)
	assert.True(t, got.Paused)
	assert.Equal(t, uint64(9), got.ExecuteFee)
}

func TestConfig_FeeOverflow(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertConfig(context.Background(), Config{CreateWalletFee: math.MaxUint64})
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestWhitelist_Order(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, b := range []byte{3, 1, 2} {
		require.NoError(t, s.AddWhitelist(ctx, addr(b), 0))
	}
	require.ErrorIs(t, s.AddWhitelist(ctx, addr(1), 0), ErrConflict)

	list, err := s.Whitelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.Address{addr(3), addr(1), addr(2)}, list)

	require.NoError(t, s.RemoveWhitelist(ctx, addr(1)))
	require.ErrorIs(t, s.RemoveWhitelist(ctx, addr(1)), ErrNotFound)

	ok, err := s.IsWhitelisted(ctx, addr(1))
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.WhitelistLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// positions keep growing after a removal
	require.NoError(t, s.AddWhitelist(ctx, addr(4), 0))
	list, err = s.Whitelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.Address{addr(3), addr(2), addr(4)}, list)
}

func TestAccounts_Transfer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bal, err := s.Balance(ctx, addr(1))
	require.NoError(t, err)
	assert.Zero(t, bal)

	require.NoError(t, s.Credit(ctx, addr(1), 100))
	require.NoError(t, s.Transfer(ctx, addr(1), addr(2), 40))

	require.ErrorIs(t, s.Transfer(ctx, addr(1), addr(2), 61), ErrInsufficientFunds)

	b1, _ := s.Balance(ctx, addr(1))
	b2, _ := s.Balance(ctx, addr(2))
	assert.Equal(t, uint64(60), b1)
	assert.Equal(t, uint64(40), b2)
}

func TestAccounts_CreditOverflow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Credit(ctx, addr(1), math.MaxInt64))
	assert.ErrorIs(t, s.Credit(ctx, addr(1), 1), ErrOverflow)
}

func TestWallets_InsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	w := seedWallet(t, s, 1)
	got, err := s.GetWallet(ctx, w.Address)
	require.NoError(t, err)
	assert.Equal(t, w, got)

	dup := w
	dup.Address = addr(9)
	dup.StateAddress = addr(99)
	require.ErrorIs(t, s.InsertWallet(ctx, dup), ErrConflict, "wallet_id must be unique")

	_, err = s.GetWallet(ctx, addr(50))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWallets_LargeIDRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	w := Wallet{
		Address:      addr(7),
		WalletID:     math.MaxUint64,
		StateAddress: addr(8),
		CreatedAt:    1,
	}
	require.NoError(t, s.InsertWallet(ctx, w))
	got, err := s.GetWallet(ctx, w.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), got.WalletID)
}

func TestWallets_AdvanceNonce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	w := seedWallet(t, s, 1)

	require.NoError(t, s.AdvanceNonce(ctx, w.Address, 0))
	require.ErrorIs(t, s.AdvanceNonce(ctx, w.Address, 0), ErrConflict, "stale expected nonce")
	require.ErrorIs(t, s.AdvanceNonce(ctx, w.Address, 5), ErrConflict, "skipping ahead")
	require.NoError(t, s.AdvanceNonce(ctx, w.Address, 1))

	got, err := s.GetWallet(ctx, w.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Nonce)
}

func TestWallets_SetPolicy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	w := seedWallet(t, s, 1)

	require.NoError(t, s.SetPolicy(ctx, w.Address, addr(77)))
	got, err := s.GetWallet(ctx, w.Address)
	require.NoError(t, err)
	assert.Equal(t, addr(77), got.Policy)

	assert.ErrorIs(t, s.SetPolicy(ctx, addr(40), addr(77)), ErrNotFound)
}

func TestWallets_PolicyInUse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inUse, err := s.PolicyInUse(ctx, addr(200))
	require.NoError(t, err)
	assert.False(t, inUse)

	w := seedWallet(t, s, 1)
	inUse, err = s.PolicyInUse(ctx, addr(200))
	require.NoError(t, err)
	assert.True(t, inUse)

	require.NoError(t, s.SetPolicy(ctx, w.Address, addr(77)))
	inUse, err = s.PolicyInUse(ctx, addr(200))
	require.NoError(t, err)
	assert.False(t, inUse)
}

func TestWallets_ListOrder(t *testing.T) {
	s := openTestStore(t)
	seedWallet(t, s, 2)
	seedWallet(t, s, 1)

	list, err := s.ListWallets(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(1), list[0].WalletID)
	assert.Equal(t, uint64(2), list[1].WalletID)
}

func TestAuthenticators_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	w := seedWallet(t, s, 1)

	a := Authenticator{
		Address:      addr(10),
		Wallet:       w.Address,
		Passkey:      []byte{0x02, 0x01},
		CredentialID: []byte("cred"),
		CreatedAt:    5,
	}
	require.NoError(t, s.InsertAuthenticator(ctx, a))

	dup := a
	dup.Address = addr(11)
	require.ErrorIs(t, s.InsertAuthenticator(ctx, dup), ErrConflict, "same passkey on same wallet")

	got, err := s.GetAuthenticator(ctx, a.Address)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	list, err := s.ListAuthenticators(ctx, w.Address)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteAuthenticator(ctx, a.Address))
	require.ErrorIs(t, s.DeleteAuthenticator(ctx, a.Address), ErrNotFound)
	_, err = s.GetAuthenticator(ctx, a.Address)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommits_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	w := seedWallet(t, s, 1)

	cm := Commit{
		Wallet:       w.Address,
		Nonce:        3,
		Address:      addr(30),
		Program:      addr(31),
		DataHash:     [32]byte{1},
		AccountsHash: [32]byte{2},
		ExpiresAt:    1000,
		RefundTo:     addr(32),
		CreatedAt:    400,
	}
	require.NoError(t, s.InsertCommit(ctx, cm))
	require.ErrorIs(t, s.InsertCommit(ctx, cm), ErrConflict)

	got, err := s.GetCommit(ctx, w.Address, 3)
	require.NoError(t, err)
	assert.Equal(t, cm, got)

	_, err = s.GetCommit(ctx, w.Address, 4)
	require.ErrorIs(t, err, ErrNotFound)

	expired, err := s.ExpiredCommits(ctx, 1000)
	require.NoError(t, err)
	assert.Empty(t, expired, "expiry is inclusive")

	expired, err = s.ExpiredCommits(ctx, 1001)
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	require.NoError(t, s.DeleteCommit(ctx, w.Address, 3))
	require.ErrorIs(t, s.DeleteCommit(ctx, w.Address, 3), ErrNotFound)

	list, err := s.ListCommits(ctx, w.Address)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRecords_Ownership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner, other, rec := addr(1), addr(2), addr(3)

	_, ok, err := s.GetRecord(ctx, owner, rec)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutRecord(ctx, owner, rec, []byte("v1"), 1))
	require.NoError(t, s.PutRecord(ctx, owner, rec, []byte("v2"), 2))

	data, ok, err := s.GetRecord(ctx, owner, rec)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), data)

	_, _, err = s.GetRecord(ctx, other, rec)
	require.ErrorIs(t, err, ErrNotOwner)
	require.ErrorIs(t, s.PutRecord(ctx, other, rec, []byte("x"), 3), ErrNotOwner)
	require.ErrorIs(t, s.DeleteRecord(ctx, other, rec), ErrNotFound)

	n, err := s.CountRecords(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DeleteRecord(ctx, owner, rec))
	n, err = s.CountRecords(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func appendTestEvents(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	evs := []NewEvent{
		{ID: "e1", Kind: "Initialized", Payload: map[string]any{"authority": addr(1).String()}, CreatedAt: 1},
		{ID: "e2", Kind: "WalletCreated", Wallet: addr(5), Payload: map[string]any{"wallet_id": uint64(5)}, CreatedAt: 2},
		{ID: "e3", Kind: "TransactionExecuted", Wallet: addr(5), Payload: map[string]any{"nonce": uint64(0)}, CreatedAt: 3},
		{ID: "e4", Kind: "TransactionExecuted", Wallet: addr(6), Payload: map[string]any{"nonce": uint64(3)}, CreatedAt: 4},
	}
	for _, ev := range evs {
		_, err := s.AppendEvent(ctx, ev)
		require.NoError(t, err)
	}
}

func TestEvents_Chain(t *testing.T) {
	s := openTestStore(t)
	appendTestEvents(t, s)
	ctx := context.Background()

	all, err := s.Events(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ir.GenesisHash, all[0].PrevHash)
	for i := 1; i < len(all); i++ {
		assert.Equal(t, all[i-1].Hash, all[i].PrevHash)
		assert.Equal(t, int64(i+1), all[i].Seq)
	}

	n, err := s.VerifyEventChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestEvents_TamperDetected(t *testing.T) {
	s := openTestStore(t)
	appendTestEvents(t, s)
	ctx := context.Background()

	_, err := s.db.Exec(`UPDATE events SET payload = '{"nonce":9}' WHERE seq = 3`)
	require.NoError(t, err)

	n, err := s.VerifyEventChain(ctx)
	require.ErrorIs(t, err, ErrChainBroken)
	assert.Equal(t, 2, n)
}

func TestEvents_TamperedMetadataDetected(t *testing.T) {
	tests := []struct {
		name   string
		update string
		args   []any
	}{
		{name: "moved to another wallet", update: `UPDATE events SET wallet = ? WHERE seq = 3`, args: []any{addr(6).Bytes()}},
		{name: "wallet cleared", update: `UPDATE events SET wallet = NULL WHERE seq = 3`},
		{name: "backdated", update: `UPDATE events SET created_at = 1 WHERE seq = 3`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			appendTestEvents(t, s)

			_, err := s.db.Exec(tt.update, tt.args...)
			require.NoError(t, err)

			n, err := s.VerifyEventChain(context.Background())
			require.ErrorIs(t, err, ErrChainBroken)
			assert.Equal(t, 2, n)
		})
	}
}

func TestEvents_Filter(t *testing.T) {
	s := openTestStore(t)
	appendTestEvents(t, s)
	ctx := context.Background()

	got, err := s.Events(ctx, EventQuery{Filter: `kind == "TransactionExecuted"`})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Events(ctx, EventQuery{Filter: `kind == "TransactionExecuted" and payload.nonce == 3`})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e4", got[0].ID)

	w := addr(5)
	got, err = s.Events(ctx, EventQuery{Wallet: &w})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Events(ctx, EventQuery{Filter: `wallet == "` + w.String() + `"`})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Events(ctx, EventQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = s.Events(ctx, EventQuery{Filter: `kind ==`})
	assert.Error(t, err)
}

func TestEvents_DecodePayloadKeepsNumbers(t *testing.T) {
	s := openTestStore(t)
	ev, err := s.AppendEvent(context.Background(), NewEvent{
		ID:      "big",
		Kind:    "Deposited",
		Payload: map[string]any{"amount": uint64(math.MaxUint64)},
	})
	require.NoError(t, err)

	m, err := ev.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", m["amount"].(interface{ String() string }).String())
}
