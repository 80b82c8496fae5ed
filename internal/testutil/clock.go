package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a DeterministicClock reports after one step.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe clock for tests that advances by a
// fixed step on every reading. Timestamps are strictly increasing and the
// same sequence of calls always yields the same times.
//
// It satisfies engine.Clock and store.WithClock (via Now).
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewDeterministicClock creates a clock that steps one second per reading.
// The first call to Now returns Epoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch.Add(-time.Second), step: time.Second}
}

// Now advances the clock and returns the new time.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Current returns the last reported time without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock. After Reset the next Now returns Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch.Add(-c.step)
}
