package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/passvault/internal/ir"
)

// Wallet is the WalletState companion record of a funds-holding address.
type Wallet struct {
	Address      ir.Address
	WalletID     uint64
	StateAddress ir.Address
	Policy       ir.Address
	Nonce        uint64
	Owner        ir.Address
	CreatedAt    int64
}

// InsertWallet creates a wallet record. Returns ErrConflict when the address
// or the wallet identifier is taken.
func (c conn) InsertWallet(ctx context.Context, w Wallet) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO wallets
		(address, wallet_id, state_address, policy, nonce, owner, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		w.Address[:],
		int64(w.WalletID), // bit-preserving; uniqueness is unaffected
		w.StateAddress[:],
		w.Policy[:],
		int64(w.Nonce),
		w.Owner[:],
		w.CreatedAt,
	)
	if isConstraintViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetWallet loads a wallet by its funds address.
func (c conn) GetWallet(ctx context.Context, addr ir.Address) (Wallet, error) {
	var w Wallet
	var id, nonce int64
	err := c.q.QueryRowContext(ctx, `
		SELECT address, wallet_id, state_address, policy, nonce, owner, created_at
		FROM wallets WHERE address = ?
	`, addr[:]).Scan(
		scanAddr(&w.Address),
		&id,
		scanAddr(&w.StateAddress),
		scanAddr(&w.Policy),
		&nonce,
		scanAddr(&w.Owner),
		&w.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	w.WalletID = uint64(id)
	w.Nonce = uint64(nonce)
	return w, nil
}

// ListWallets returns every wallet ordered by wallet identifier.
func (c conn) ListWallets(ctx context.Context) ([]Wallet, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT address, wallet_id, state_address, policy, nonce, owner, created_at
		FROM wallets ORDER BY created_at ASC, wallet_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		var w Wallet
		var id, nonce int64
		if err := rows.Scan(scanAddr(&w.Address), &id, scanAddr(&w.StateAddress),
			scanAddr(&w.Policy), &nonce, scanAddr(&w.Owner), &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("list wallets: %w", err)
		}
		w.WalletID = uint64(id)
		w.Nonce = uint64(nonce)
		out = append(out, w)
	}
	return out, rows.Err()
}

// AdvanceNonce moves the nonce from expected to expected+1. Returns
// ErrConflict when the stored nonce is not expected, so a nonce can never be
// skipped or decremented.
func (c conn) AdvanceNonce(ctx context.Context, addr ir.Address, expected uint64) error {
	cur, err := toDB(expected)
	if err != nil {
		return fmt.Errorf("advance nonce: %w", err)
	}
	if _, err := toDB(expected + 1); err != nil {
		return fmt.Errorf("advance nonce: %w", ErrOverflow)
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE wallets SET nonce = nonce + 1 WHERE address = ? AND nonce = ?
	`, addr[:], cur)
	if err != nil {
		return fmt.Errorf("advance nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance nonce: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// SetPolicy records the wallet's active policy module.
func (c conn) SetPolicy(ctx context.Context, addr, policy ir.Address) error {
	res, err := c.q.ExecContext(ctx, `UPDATE wallets SET policy = ? WHERE address = ?`, policy[:], addr[:])
	if err != nil {
		return fmt.Errorf("set policy: %w", err)
	}
	return expectOneRow(res, "set policy")
}
