package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/passvault/internal/ir"
)

// GetRecord returns the data of a module-owned record. ok is false when the
// record does not exist. Reading another module's record returns ErrNotOwner.
func (c conn) GetRecord(ctx context.Context, owner, addr ir.Address) (data []byte, ok bool, err error) {
	var stored ir.Address
	err = c.q.QueryRowContext(ctx, `SELECT owner, data FROM policy_records WHERE address = ?`, addr[:]).
		Scan(scanAddr(&stored), &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get record: %w", err)
	}
	if stored != owner {
		return nil, false, ErrNotOwner
	}
	return data, true, nil
}

// PutRecord creates or replaces a record owned by owner. Overwriting a record
// owned by a different module returns ErrNotOwner.
func (c conn) PutRecord(ctx context.Context, owner, addr ir.Address, data []byte, now int64) error {
	if data == nil {
		data = []byte{}
	}
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO policy_records (address, owner, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
		WHERE policy_records.owner = excluded.owner
	`, addr[:], owner[:], data, now)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// DeleteRecord removes a record owned by owner. Returns ErrNotFound if no
// such record exists for that owner.
func (c conn) DeleteRecord(ctx context.Context, owner, addr ir.Address) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM policy_records WHERE address = ? AND owner = ?`, addr[:], owner[:])
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return expectOneRow(res, "delete record")
}

// CountRecords returns how many records owner holds.
func (c conn) CountRecords(ctx context.Context, owner ir.Address) (int, error) {
	var n int
	if err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM policy_records WHERE owner = ?`, owner[:]).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
