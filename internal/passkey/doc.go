// Package passkey verifies secp256r1 passkey assertions.
//
// A client signs a Message by passing its binary encoding as the WebAuthn
// challenge. The authenticator signs authenticatorData ‖ sha256(clientDataJSON)
// and the engine recomputes the Message from its own state before calling
// VerifyAssertion. A signature over any other message fails with
// ErrChallengeMismatch, which is how replayed or tampered requests are
// rejected.
//
// Verification runs in-process. The public key must be the compressed key
// recorded for the Authenticator; callers check that before verifying.
package passkey
