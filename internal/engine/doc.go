// Package engine implements the passvault custody engine.
//
// The engine holds funds in wallet addresses that are controlled by
// registered passkeys and governed by a pluggable policy module. Every
// state-changing entry point follows the same pipeline:
//
//  1. Received: pause check and request boundary limits
//  2. SignatureVerified: freshness, nonce and passkey assertion over the
//     message rebuilt from stored state
//  3. PolicyEvaluated: the wallet's active, whitelisted policy approves or
//     mutates
//  4. EffectApplied: the effect program runs with the wallet as signer
//  5. NonceAdvanced: the wallet nonce moves by one
//
// Each action runs inside one SQLite transaction (see store.WithTx). A
// failure at any stage rolls back everything, including events and policy
// records, and is reported as a *RuntimeError carrying the last completed
// stage.
//
// Concurrency:
//
// Actions on one wallet serialize on a per-wallet lock. Actions on different
// wallets are ordered by the store's single writer connection. Code running
// inside a unit must only touch the unit's transaction, never the Engine's
// store, or it deadlocks on that connection.
//
// Determinism:
//
// The clock and the event ID generator are injected (WithClock,
// WithIDGenerator), so the harness can replay scenarios into byte-identical
// event logs.
package engine
