package store

import (
	"errors"
	"fmt"
	"math"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/passvault/internal/ir"
)

// addressScanner scans a BLOB column into an ir.Address.
type addressScanner struct {
	dst      *ir.Address
	nullable bool
}

func scanAddr(dst *ir.Address) *addressScanner {
	return &addressScanner{dst: dst}
}

func scanNullableAddr(dst *ir.Address) *addressScanner {
	return &addressScanner{dst: dst, nullable: true}
}

// Scan implements sql.Scanner.
func (s *addressScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		if s.nullable {
			*s.dst = ir.ZeroAddress
			return nil
		}
		return fmt.Errorf("scan address: unexpected NULL")
	case []byte:
		a, err := ir.AddressFromBytes(v)
		if err != nil {
			return fmt.Errorf("scan address: %w", err)
		}
		*s.dst = a
		return nil
	default:
		return fmt.Errorf("scan address: unsupported type %T", src)
	}
}

// hash32 scans a 32-byte BLOB.
type hash32 struct {
	dst *[32]byte
}

// Scan implements sql.Scanner.
func (h hash32) Scan(src any) error {
	b, ok := src.([]byte)
	if !ok || len(b) != 32 {
		return fmt.Errorf("scan hash: expected 32-byte blob, got %T", src)
	}
	copy(h.dst[:], b)
	return nil
}

// toDB converts an unsigned amount to SQLite's signed INTEGER.
func toDB(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d exceeds storable range", ErrOverflow, v)
	}
	return int64(v), nil
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
