// Package harness runs passvault conformance scenarios.
//
// A scenario is a YAML file that stands up a fresh in-memory engine from a
// genesis block, drives it through a flow of signed wallet actions, and
// checks the resulting state. Every run uses a deterministic clock and
// sequential event IDs, so the recorded trace is stable and can be compared
// against a golden file.
//
// # Scenario Format
//
//	name: replay_protection
//	description: "A signed transaction cannot be replayed"
//	genesis:
//	  fees: { execute: 5 }
//	  funding: { payer: 100000 }
//	flow:
//	  - action: create_wallet
//	    args: { wallet: 1, device: alice, amount: 10000 }
//	  - action: execute
//	    args: { wallet: 1, device: alice, to: bob, amount: 1000 }
//	  - action: replay
//	    expect: { error: nonce_replayed }
//	assertions:
//	  - type: balance
//	    account: bob
//	    equals: 1000
//	  - type: nonce
//	    wallet: 1
//	    equals: 1
//
// Accounts are symbolic: "authority" and "payer" are predefined and any other
// name derives a stable address. Devices are deterministic P-256 passkeys
// named by seed. Wallets are referenced by wallet id.
//
// # Actions
//
// fund, create_wallet, execute, commit, execute_committed, invoke_policy,
// change_policy, reclaim, reclaim_expired, whitelist_add, whitelist_remove,
// pause, resume, config_set, advance and replay. The replay action resubmits
// the most recent signed request unchanged.
//
// # Assertions
//
//   - balance: account (or wallet) balance equals a value
//   - nonce: wallet nonce equals a value
//   - policy: wallet's active policy is the named module
//   - authenticators: wallet has count registered devices
//   - commits: wallet has count pending commits
//   - event_count: count events match an optional filter expression
//   - event_order: the named event kinds appear in order
//   - chain_valid: the event hash chain verifies
package harness
