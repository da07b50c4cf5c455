// Package system provides the wall clock used for cursor, post and run
// timestamps.
package system

import "time"

// Precision matches the resolution of Postgres timestamptz columns, so a
// timestamp read back from the store equals the one that was written.
const Precision = time.Microsecond

// Clock implements crawler.Clock.
type Clock struct {
	now func() time.Time
}

// New creates a Clock backed by time.Now.
func New() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current UTC time truncated to Precision.
func (c *Clock) Now() time.Time {
	now := time.Now
	if c != nil && c.now != nil {
		now = c.now
	}
	return now().UTC().Truncate(Precision)
}

// Since reports the time elapsed since t on this clock.
func (c *Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
