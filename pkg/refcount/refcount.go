package refcount

import (
	"fmt"
	"sync/atomic"
)

// strict controls whether reference counting misuse panics.
// Off by default; tests turn it on via SetStrict.
var strict atomic.Bool

// SetStrict enables or disables strict mode process-wide.
// In strict mode, acquiring a dead counter or releasing below zero
// panics instead of being ignored.
func SetStrict(on bool) {
	strict.Store(on)
}

// Strict reports whether strict mode is enabled.
func Strict() bool {
	return strict.Load()
}

// Counter is an atomic reference count with a destructor that runs
// exactly once, when the count drops from one to zero.
//
// A Counter must be initialized with Init before use and must not be
// copied after initialization. Callers must never call Release more
// times than matching Acquire calls plus the initial construction
// reference.
type Counter struct {
	n       atomic.Int64
	destroy func()
}

// Init initializes the counter with a count of one (the construction
// reference) and records the destructor to run when the count reaches
// zero. destroy may be nil.
func (c *Counter) Init(destroy func()) {
	c.n.Store(1)
	c.destroy = destroy
}

// Acquire increments the reference count. The counter must be live
// (count >= 1): acquiring a counter whose payload may already have been
// destroyed is a defect.
func (c *Counter) Acquire() {
	n := c.n.Add(1)
	if n <= 1 {
		// The object was already dead when we grabbed it.
		c.n.Add(-1)
		if strict.Load() {
			panic(fmt.Sprintf("refcount: acquire on dead counter (count %d)", n-1))
		}
	}
}

// Release decrements the reference count. When the count reaches zero
// the destructor runs, exactly once. Releasing below zero is a defect:
// strict mode panics, production mode restores the count and returns.
func (c *Counter) Release() {
	n := c.n.Add(-1)
	switch {
	case n == 0:
		if c.destroy != nil {
			c.destroy()
		}
	case n < 0:
		c.n.Add(1)
		if strict.Load() {
			panic(fmt.Sprintf("refcount: release below zero (count %d)", n))
		}
	}
}

// Count returns the current reference count. Intended for tests and
// diagnostics; the value is immediately stale in concurrent use.
func (c *Counter) Count() int64 {
	return c.n.Load()
}
