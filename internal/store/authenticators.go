package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/passvault/internal/ir"
)

// Authenticator is a registered passkey device scoped to one wallet.
type Authenticator struct {
	Address      ir.Address
	Wallet       ir.Address
	Passkey      []byte
	CredentialID []byte
	CreatedAt    int64
}

// InsertAuthenticator registers a device. Returns ErrConflict when the
// address or the (wallet, passkey) pair already exists.
func (c conn) InsertAuthenticator(ctx context.Context, a Authenticator) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO authenticators (address, wallet, passkey, credential_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.Address[:], a.Wallet[:], a.Passkey, a.CredentialID, a.CreatedAt)
	if isConstraintViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert authenticator: %w", err)
	}
	return nil
}

// GetAuthenticator loads a device by address.
func (c conn) GetAuthenticator(ctx context.Context, addr ir.Address) (Authenticator, error) {
	var a Authenticator
	err := c.q.QueryRowContext(ctx, `
		SELECT address, wallet, passkey, credential_id, created_at
		FROM authenticators WHERE address = ?
	`, addr[:]).Scan(scanAddr(&a.Address), scanAddr(&a.Wallet), &a.Passkey, &a.CredentialID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Authenticator{}, ErrNotFound
	}
	if err != nil {
		return Authenticator{}, fmt.Errorf("get authenticator: %w", err)
	}
	return a, nil
}

// ListAuthenticators returns the devices of wallet in registration order.
func (c conn) ListAuthenticators(ctx context.Context, wallet ir.Address) ([]Authenticator, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT address, wallet, passkey, credential_id, created_at
		FROM authenticators WHERE wallet = ?
		ORDER BY created_at ASC, address ASC
	`, wallet[:])
	if err != nil {
		return nil, fmt.Errorf("list authenticators: %w", err)
	}
	defer rows.Close()

	var out []Authenticator
	for rows.Next() {
		var a Authenticator
		if err := rows.Scan(scanAddr(&a.Address), scanAddr(&a.Wallet), &a.Passkey, &a.CredentialID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("list authenticators: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAuthenticator removes a device. Returns ErrNotFound if absent.
func (c conn) DeleteAuthenticator(ctx context.Context, addr ir.Address) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM authenticators WHERE address = ?`, addr[:])
	if err != nil {
		return fmt.Errorf("delete authenticator: %w", err)
	}
	return expectOneRow(res, "delete authenticator")
}
