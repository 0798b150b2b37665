package engine

import "sync/atomic"

// Clock stamps commits with strictly increasing sequence numbers.
//
// Sequence numbers are logical: they order commits within one engine
// lifetime and carry no wall-clock meaning. Thread-safe.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0. The first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out, or 0.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
