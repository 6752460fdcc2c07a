package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/roach88/passvault/internal/ir"
)

// Balance returns the native balance of addr. Unknown accounts hold zero.
func (c conn) Balance(ctx context.Context, addr ir.Address) (uint64, error) {
	var bal int64
	err := c.q.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE address = ?`, addr[:]).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return uint64(bal), nil
}

// Credit adds amount to addr, creating the account on first use.
func (c conn) Credit(ctx context.Context, addr ir.Address, amount uint64) error {
	bal, err := c.Balance(ctx, addr)
	if err != nil {
		return err
	}
	if amount > math.MaxInt64-bal {
		return fmt.Errorf("credit %s: %w", addr.Short(), ErrOverflow)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO accounts (address, balance) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET balance = excluded.balance
	`, addr[:], int64(bal+amount))
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

// Debit subtracts amount from addr. Returns ErrInsufficientFunds when the
// balance does not cover it.
func (c conn) Debit(ctx context.Context, addr ir.Address, amount uint64) error {
	bal, err := c.Balance(ctx, addr)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("debit %s: %w", addr.Short(), ErrInsufficientFunds)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO accounts (address, balance) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET balance = excluded.balance
	`, addr[:], int64(bal-amount))
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	return nil
}

// Transfer moves amount from one account to another.
func (c conn) Transfer(ctx context.Context, from, to ir.Address, amount uint64) error {
	if err := c.Debit(ctx, from, amount); err != nil {
		return err
	}
	return c.Credit(ctx, to, amount)
}
