// Package store provides SQLite-backed state for passvault.
//
// The store holds every persisted entity:
//   - config: the GlobalConfig singleton
//   - whitelist: the ordered registry of trusted policy modules
//   - accounts: native balances, including wallet balances
//   - wallets: WalletState (policy, nonce, owner)
//   - authenticators: registered passkey devices
//   - commits: pending two-phase commit records
//   - policy_records: module-owned state
//   - events: the hash-chained audit log
//
// # Atomic Units
//
// Store.WithTx is the atomic unit. Engine actions perform every read and
// write through the *Tx handed to the callback; an error from the callback
// rolls back the whole unit, so no partial mutation is ever visible.
//
// # Deterministic Query Results
//
// List queries order by a stable key (position, seq, or address) so the
// CLI and the conformance harness see identical output across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait up to 5s for locks
//   - foreign_keys=ON: Enforce referential integrity
package store
