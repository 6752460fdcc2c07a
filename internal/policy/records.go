package policy

import (
	"context"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/ir"
)

// RecordStore is a module's view of its own records, keyed by seed.
type RecordStore interface {
	Get(ctx context.Context, seed ir.Address) ([]byte, bool, error)
	Put(ctx context.Context, seed ir.Address, data []byte) error
	Delete(ctx context.Context, seed ir.Address) error
}

// Backend is the owner-checked record storage. store.Tx satisfies it.
type Backend interface {
	GetRecord(ctx context.Context, owner, addr ir.Address) ([]byte, bool, error)
	PutRecord(ctx context.Context, owner, addr ir.Address, data []byte, now int64) error
	DeleteRecord(ctx context.Context, owner, addr ir.Address) error
}

type scopedRecords struct {
	backend Backend
	module  ir.Address
	now     int64
}

// Scoped returns a RecordStore that reads and writes only module's records.
func Scoped(b Backend, module ir.Address, now int64) RecordStore {
	return &scopedRecords{backend: b, module: module, now: now}
}

func (s *scopedRecords) Get(ctx context.Context, seed ir.Address) ([]byte, bool, error) {
	return s.backend.GetRecord(ctx, s.module, address.PolicyRecord(s.module, seed))
}

func (s *scopedRecords) Put(ctx context.Context, seed ir.Address, data []byte) error {
	return s.backend.PutRecord(ctx, s.module, address.PolicyRecord(s.module, seed), data, s.now)
}

func (s *scopedRecords) Delete(ctx context.Context, seed ir.Address) error {
	return s.backend.DeleteRecord(ctx, s.module, address.PolicyRecord(s.module, seed))
}
