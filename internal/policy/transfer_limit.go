package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/program"
)

// TransferLimitName is the registered name of the transfer-limit policy.
const TransferLimitName = "transfer_limit"

// TransferLimit caps native transfers for non-admin members.
//
// A single per-wallet record holds the limit and the admin and member sets.
// Admins may transfer any amount and manage the policy. Members may only
// transfer up to the limit.
//
// Mutate data:
//
//	init:          {"limit": N}
//	set_limit:     {"op": "set_limit", "limit": N}
//	add_member:    {"op": "add_member"} with a new device
//	remove_member: {"op": "remove_member"} with a device to remove
type TransferLimit struct{}

type limitState struct {
	Limit   uint64       `json:"limit"`
	Admins  []ir.Address `json:"admins"`
	Members []ir.Address `json:"members"`
}

type limitOp struct {
	Op    string  `json:"op"`
	Limit *uint64 `json:"limit"`
}

func (s *limitState) isAdmin(a ir.Address) bool  { return containsAddr(s.Admins, a) }
func (s *limitState) isMember(a ir.Address) bool { return containsAddr(s.Members, a) }

func containsAddr(list []ir.Address, a ir.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func removeAddr(list []ir.Address, a ir.Address) []ir.Address {
	out := list[:0]
	for _, x := range list {
		if x != a {
			out = append(out, x)
		}
	}
	return out
}

func decodeOp(data []byte) (limitOp, error) {
	var op limitOp
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&op); err != nil {
		return limitOp{}, rejectf("transfer_limit: invalid data: %v", err)
	}
	return op, nil
}

func loadLimit(ctx context.Context, inv *Invocation) (*limitState, error) {
	data, ok, err := inv.Records.Get(ctx, inv.Wallet)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rejectf("transfer_limit: wallet %s not initialized", inv.Wallet.Short())
	}
	var st limitState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode transfer limit state: %w", err)
	}
	return &st, nil
}

func saveLimit(ctx context.Context, inv *Invocation, st *limitState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return inv.Records.Put(ctx, inv.Wallet, data)
}

// Approve implements Module.
func (TransferLimit) Approve(ctx context.Context, inv *Invocation) error {
	st, err := loadLimit(ctx, inv)
	if err != nil {
		return err
	}
	admin := st.isAdmin(inv.Authenticator)
	if !admin && !st.isMember(inv.Authenticator) {
		return rejectf("transfer_limit: authenticator %s is not a member", inv.Authenticator.Short())
	}
	if inv.Effect == nil || admin {
		return nil
	}
	if amount, ok := program.TransferAmount(*inv.Effect); ok && amount > st.Limit {
		return rejectf("transfer_limit: amount %d exceeds limit %d", amount, st.Limit)
	}
	return nil
}

// Mutate implements Module.
func (TransferLimit) Mutate(ctx context.Context, inv *Invocation) error {
	if inv.Phase == PhaseInit {
		op, err := decodeOp(inv.Data)
		if err != nil {
			return err
		}
		if op.Op != "" || op.Limit == nil {
			return rejectf("transfer_limit: init requires {\"limit\": N}")
		}
		st := &limitState{Limit: *op.Limit, Admins: []ir.Address{inv.Authenticator}, Members: []ir.Address{}}
		if inv.NewDevice != nil {
			st.Members = append(st.Members, inv.NewDevice.Address)
		}
		return saveLimit(ctx, inv, st)
	}

	st, err := loadLimit(ctx, inv)
	if err != nil {
		return err
	}
	if !st.isAdmin(inv.Authenticator) {
		return rejectf("transfer_limit: %s requires an admin", inv.Phase)
	}

	switch inv.Phase {
	case PhaseDestroy:
		return inv.Records.Delete(ctx, inv.Wallet)

	case PhaseMutate:
		op, err := decodeOp(inv.Data)
		if err != nil {
			return err
		}
		switch op.Op {
		case "set_limit":
			if op.Limit == nil {
				return rejectf("transfer_limit: set_limit requires a limit")
			}
			st.Limit = *op.Limit
		case "add_member":
			if inv.NewDevice == nil {
				return rejectf("transfer_limit: add_member requires a new device")
			}
			st.Members = append(st.Members, inv.NewDevice.Address)
		case "remove_member":
			if inv.RemoveDevice == nil || !st.isMember(*inv.RemoveDevice) {
				return rejectf("transfer_limit: remove_member requires a member device")
			}
			st.Members = removeAddr(st.Members, *inv.RemoveDevice)
		default:
			return rejectf("transfer_limit: unknown op %q", op.Op)
		}
		return saveLimit(ctx, inv, st)

	default:
		return fmt.Errorf("transfer_limit: unsupported phase %q", inv.Phase)
	}
}
