// Package ir provides the shared value types for passvault.
//
// This package contains addresses, account metas, instruction descriptors,
// canonical JSON encoding and the hashing helpers built on top of it. All
// other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - balances and amounts are uint64
//   - Addresses are 32 bytes and render as lowercase hex
//   - All JSON tags use snake_case
//   - Hashes that bind signed or committed data are raw SHA-256 so any
//     client can recompute them without a canonical JSON implementation
package ir
