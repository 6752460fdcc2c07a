package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/passvault/internal/ir"
)

// Config is the GlobalConfig singleton.
type Config struct {
	Authority       ir.Address
	DefaultPolicy   ir.Address
	CommitTTL       int64 // seconds
	MaxMessageAge   int64 // seconds
	CreateWalletFee uint64
	ExecuteFee      uint64
	Paused          bool
	UpdatedAt       int64
}

// GetConfig returns the singleton or ErrNotFound before initialization.
func (c conn) GetConfig(ctx context.Context) (Config, error) {
	var cfg Config
	var createFee, execFee int64
	var paused int
	err := c.q.QueryRowContext(ctx, `
		SELECT authority, default_policy, commit_ttl, max_message_age,
		       create_wallet_fee, execute_fee, paused, updated_at
		FROM config WHERE id = 1
	`).Scan(
		scanAddr(&cfg.Authority),
		scanAddr(&cfg.DefaultPolicy),
		&cfg.CommitTTL,
		&cfg.MaxMessageAge,
		&createFee,
		&execFee,
		&paused,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Config{}, ErrNotFound
	}
	if err != nil {
		return Config{}, fmt.Errorf("get config: %w", err)
	}
	cfg.CreateWalletFee = uint64(createFee)
	cfg.ExecuteFee = uint64(execFee)
	cfg.Paused = paused != 0
	return cfg, nil
}

// InsertConfig creates the singleton. Returns ErrConflict if it exists.
func (c conn) InsertConfig(ctx context.Context, cfg Config) error {
	createFee, err := toDB(cfg.CreateWalletFee)
	if err != nil {
		return fmt.Errorf("insert config: %w", err)
	}
	execFee, err := toDB(cfg.ExecuteFee)
	if err != nil {
		return fmt.Errorf("insert config: %w", err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO config
		(id, authority, default_policy, commit_ttl, max_message_age,
		 create_wallet_fee, execute_fee, paused, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cfg.Authority[:],
		cfg.DefaultPolicy[:],
		cfg.CommitTTL,
		cfg.MaxMessageAge,
		createFee,
		execFee,
		boolInt(cfg.Paused),
		cfg.UpdatedAt,
	)
	if isConstraintViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert config: %w", err)
	}
	return nil
}

// UpdateConfig overwrites every field of the singleton.
func (c conn) UpdateConfig(ctx context.Context, cfg Config) error {
	createFee, err := toDB(cfg.CreateWalletFee)
	if err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	execFee, err := toDB(cfg.ExecuteFee)
	if err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE config SET
			authority = ?, default_policy = ?, commit_ttl = ?, max_message_age = ?,
			create_wallet_fee = ?, execute_fee = ?, paused = ?, updated_at = ?
		WHERE id = 1
	`,
		cfg.Authority[:],
		cfg.DefaultPolicy[:],
		cfg.CommitTTL,
		cfg.MaxMessageAge,
		createFee,
		execFee,
		boolInt(cfg.Paused),
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	return expectOneRow(res, "update config")
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
