package store

import (
	"context"
	"fmt"

	"github.com/roach88/passvault/internal/ir"
)

// Whitelist returns the registered module identities in insertion order.
func (c conn) Whitelist(ctx context.Context) ([]ir.Address, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT module FROM whitelist ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("list whitelist: %w", err)
	}
	defer rows.Close()

	var out []ir.Address
	for rows.Next() {
		var a ir.Address
		if err := rows.Scan(scanAddr(&a)); err != nil {
			return nil, fmt.Errorf("list whitelist: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// IsWhitelisted reports whether module is registered.
func (c conn) IsWhitelisted(ctx context.Context, module ir.Address) (bool, error) {
	var n int
	err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM whitelist WHERE module = ?`, module[:]).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check whitelist: %w", err)
	}
	return n > 0, nil
}

// PolicyInUse reports whether any wallet has module as its active policy.
func (c conn) PolicyInUse(ctx context.Context, module ir.Address) (bool, error) {
	var n int
	err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM (SELECT 1 FROM wallets WHERE policy = ? LIMIT 1)`, module[:]).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check policy in use: %w", err)
	}
	return n > 0, nil
}

// WhitelistLen returns the number of registered modules.
func (c conn) WhitelistLen(ctx context.Context) (int, error) {
	var n int
	if err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM whitelist`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count whitelist: %w", err)
	}
	return n, nil
}

// AddWhitelist appends module. Returns ErrConflict for a duplicate.
// Bounds are enforced by the caller.
func (c conn) AddWhitelist(ctx context.Context, module ir.Address, now int64) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO whitelist (module, position, added_at)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM whitelist), ?)
	`, module[:], now)
	if isConstraintViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("add whitelist: %w", err)
	}
	return nil
}

// RemoveWhitelist deletes module. Returns ErrNotFound if absent.
func (c conn) RemoveWhitelist(ctx context.Context, module ir.Address) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM whitelist WHERE module = ?`, module[:])
	if err != nil {
		return fmt.Errorf("remove whitelist: %w", err)
	}
	return expectOneRow(res, "remove whitelist")
}
