package program

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/roach88/passvault/internal/ir"
)

// MemoName is the registered name of the memo program.
const MemoName = "memo"

// MaxMemoSize bounds a memo payload.
const MaxMemoSize = 64 << 10

// Memo accepts an opaque payload and records its hash. It touches no
// balances.
type Memo struct{}

// Invoke implements Program.
func (Memo) Invoke(_ context.Context, call *Call) error {
	if len(call.Data) == 0 {
		return fmt.Errorf("%w: memo: empty payload", ErrRejected)
	}
	if len(call.Data) > MaxMemoSize {
		return fmt.Errorf("%w: memo: payload exceeds %d bytes", ErrRejected, MaxMemoSize)
	}
	h := ir.DataHash(call.Data)
	call.set("memo_sha256", hex.EncodeToString(h[:]))
	return nil
}
