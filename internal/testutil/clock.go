package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a DeterministicClock
// (2025-01-01T00:00:00Z).
var Epoch = time.Unix(1735689600, 0).UTC()

// DeterministicClock is a manually advanced wall clock for tests.
//
// It satisfies engine.Clock. Time only moves when the test calls Advance or
// Set, so freshness and expiry checks are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewDeterministicClock creates a clock reading Epoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch}
}

// NewDeterministicClockAt creates a clock reading start.
func NewDeterministicClockAt(start time.Time) *DeterministicClock {
	return &DeterministicClock{now: start}
}

// Now returns the current reading.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Unix returns the current reading in unix seconds.
func (c *DeterministicClock) Unix() int64 {
	return c.Now().Unix()
}

// Advance moves the clock forward by d and returns the new reading.
func (c *DeterministicClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *DeterministicClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Reset moves the clock back to Epoch.
func (c *DeterministicClock) Reset() {
	c.Set(Epoch)
}
