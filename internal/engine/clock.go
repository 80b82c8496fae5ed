package engine

import "time"

// Clock supplies the timestamps written to pipelines, entries and the
// correspondence index.
//
// Implemented by SystemClock (production) and testutil.DeterministicClock
// (tests and golden traces).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
