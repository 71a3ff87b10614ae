package id

import "sync/atomic"

// FirstID is the first identifier handed out by a fresh Counter.
// Zero is never issued so it can stand for "no handle".
const FirstID uint64 = 1

// Generator provides identifiers that are unique within one engine instance.
type Generator interface {
	NextID() uint64
}

// Counter issues monotonically increasing identifiers.
// Database handles, query handles and request ids all share one Counter so an
// identifier never means two things at once. Thread-safe.
type Counter struct {
	next atomic.Uint64
}

// NewCounter creates a counter whose first NextID returns start.
// A start of 0 is treated as FirstID.
func NewCounter(start uint64) *Counter {
	if start == 0 {
		start = FirstID
	}
	c := &Counter{}
	c.next.Store(start - 1)
	return c
}

// NextID returns the next identifier.
func (c *Counter) NextID() uint64 {
	return c.next.Add(1)
}

// Last returns the most recently issued identifier, or start-1 if none was issued.
func (c *Counter) Last() uint64 {
	return c.next.Load()
}
