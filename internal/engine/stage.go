package engine

// Stage is a point in the action pipeline. A RuntimeError records the last
// stage reached before the failure.
type Stage string

const (
	StageReceived          Stage = "received"
	StageSignatureVerified Stage = "signature_verified"
	StagePolicyEvaluated   Stage = "policy_evaluated"
	StageEffectApplied     Stage = "effect_applied"
	StageNonceAdvanced     Stage = "nonce_advanced"
)
