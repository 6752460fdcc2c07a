package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/passvault/internal/ir"
)

// Commit is a pending two-phase commit record.
type Commit struct {
	Wallet       ir.Address
	Nonce        uint64 // nonce consumed by the authorizing commit
	Address      ir.Address
	Program      ir.Address
	DataHash     [32]byte
	AccountsHash [32]byte
	ExpiresAt    int64
	RefundTo     ir.Address
	CreatedAt    int64
}

const commitColumns = `wallet, nonce, address, program, data_hash, accounts_hash, expires_at, refund_to, created_at`

// InsertCommit stores a commit. Returns ErrConflict if (wallet, nonce) is
// already committed.
func (c conn) InsertCommit(ctx context.Context, cm Commit) error {
	nonce, err := toDB(cm.Nonce)
	if err != nil {
		return fmt.Errorf("insert commit: %w", err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO commits (`+commitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cm.Wallet[:], nonce, cm.Address[:], cm.Program[:],
		cm.DataHash[:], cm.AccountsHash[:], cm.ExpiresAt, cm.RefundTo[:], cm.CreatedAt,
	)
	if isConstraintViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert commit: %w", err)
	}
	return nil
}

// GetCommit loads the commit authorized at (wallet, nonce).
func (c conn) GetCommit(ctx context.Context, wallet ir.Address, nonce uint64) (Commit, error) {
	n, err := toDB(nonce)
	if err != nil {
		return Commit{}, ErrNotFound
	}
	row := c.q.QueryRowContext(ctx, `SELECT `+commitColumns+` FROM commits WHERE wallet = ? AND nonce = ?`, wallet[:], n)
	cm, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Commit{}, ErrNotFound
	}
	if err != nil {
		return Commit{}, fmt.Errorf("get commit: %w", err)
	}
	return cm, nil
}

// DeleteCommit destroys a commit. Returns ErrNotFound if absent.
func (c conn) DeleteCommit(ctx context.Context, wallet ir.Address, nonce uint64) error {
	n, err := toDB(nonce)
	if err != nil {
		return ErrNotFound
	}
	res, err := c.q.ExecContext(ctx, `DELETE FROM commits WHERE wallet = ? AND nonce = ?`, wallet[:], n)
	if err != nil {
		return fmt.Errorf("delete commit: %w", err)
	}
	return expectOneRow(res, "delete commit")
}

// ExpiredCommits returns commits whose expiry is strictly before now,
// oldest first.
func (c conn) ExpiredCommits(ctx context.Context, now int64) ([]Commit, error) {
	return c.listCommits(ctx, `SELECT `+commitColumns+` FROM commits WHERE expires_at < ? ORDER BY expires_at ASC, wallet ASC, nonce ASC`, now)
}

// ListCommits returns the pending commits of wallet by nonce.
func (c conn) ListCommits(ctx context.Context, wallet ir.Address) ([]Commit, error) {
	return c.listCommits(ctx, `SELECT `+commitColumns+` FROM commits WHERE wallet = ? ORDER BY nonce ASC`, wallet[:])
}

func (c conn) listCommits(ctx context.Context, query string, args ...any) ([]Commit, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	defer rows.Close()

	var out []Commit
	for rows.Next() {
		cm, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("list commits: %w", err)
		}
		out = append(out, cm)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommit(row rowScanner) (Commit, error) {
	var cm Commit
	var nonce int64
	err := row.Scan(
		scanAddr(&cm.Wallet),
		&nonce,
		scanAddr(&cm.Address),
		scanAddr(&cm.Program),
		hash32{&cm.DataHash},
		hash32{&cm.AccountsHash},
		&cm.ExpiresAt,
		scanAddr(&cm.RefundTo),
		&cm.CreatedAt,
	)
	cm.Nonce = uint64(nonce)
	return cm, err
}
