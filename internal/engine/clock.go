package engine

import "time"

// Clock supplies wall time for freshness and expiry checks.
//
// Implemented by SystemClock (production) and testutil.DeterministicClock
// (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}
