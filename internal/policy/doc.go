// Package policy defines the policy module protocol and the built-in
// modules.
//
// A policy module decides whether a wallet action is approved and keeps its
// own per-wallet or per-device records. The engine reaches a module only
// through the Registry after checking that its identity is whitelisted.
//
// # Call Shapes
//
// Approve is read-only: it sees the invoking authenticator, the policy
// accounts, the opaque policy data and a preview of the effect the engine
// is about to apply. Mutate runs for the mutate, init and destroy phases and
// may write records through the scoped RecordStore on the Invocation.
//
// # Records
//
// A module reads and writes only records it owns. Record addresses are
// derived from (module, seed) where seed is a wallet or an authenticator
// address, so a module's state never collides with another module's.
package policy
