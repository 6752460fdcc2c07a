package program

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/ir"
)

// SystemName is the registered name of the native transfer program.
const SystemName = "system"

// transferTag is the instruction discriminator of a native transfer.
const transferTag uint32 = 2

// System moves native balance between accounts.
//
// Data is u32le(2) ‖ u64le(amount). Accounts are [from (signer, writable),
// to (writable)].
type System struct{}

// SystemID is the identity of the system program.
func SystemID() ir.Address {
	return address.Program(SystemName)
}

// TransferData encodes a transfer of amount.
func TransferData(amount uint64) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[:4], transferTag)
	binary.LittleEndian.PutUint64(b[4:], amount)
	return b
}

// Transfer builds a native transfer instruction.
func Transfer(from, to ir.Address, amount uint64) ir.Instruction {
	return ir.Instruction{
		Program: SystemID(),
		Accounts: []ir.AccountMeta{
			{Key: from, IsSigner: true, IsWritable: true},
			{Key: to, IsWritable: true},
		},
		Data: TransferData(amount),
	}
}

// ParseTransfer decodes a transfer amount. ok is false when data is not a
// transfer.
func ParseTransfer(data []byte) (amount uint64, ok bool) {
	if len(data) != 12 || binary.LittleEndian.Uint32(data[:4]) != transferTag {
		return 0, false
	}
	return binary.LittleEndian.Uint64(data[4:]), true
}

// TransferAmount reports the native amount an instruction moves out of its
// first account, if it is a system transfer.
func TransferAmount(in ir.Instruction) (uint64, bool) {
	if in.Program != SystemID() {
		return 0, false
	}
	return ParseTransfer(in.Data)
}

// Invoke implements Program.
func (System) Invoke(ctx context.Context, call *Call) error {
	amount, ok := ParseTransfer(call.Data)
	if !ok {
		return fmt.Errorf("%w: system: unsupported instruction", ErrRejected)
	}
	if len(call.Accounts) != 2 {
		return fmt.Errorf("%w: system: transfer takes 2 accounts, got %d", ErrRejected, len(call.Accounts))
	}
	from, to := call.Accounts[0], call.Accounts[1]
	if !from.IsSigner || !from.IsWritable || !to.IsWritable {
		return fmt.Errorf("%w: system: account flags", ErrRejected)
	}
	if from.Key == to.Key {
		return fmt.Errorf("%w: system: source and destination are the same account", ErrRejected)
	}
	if err := call.Ledger.Transfer(ctx, from.Key, to.Key, amount); err != nil {
		return err
	}
	call.set("transferred", amount)
	call.set("to", to.Key.String())
	return nil
}
