// Package contextid allocates the ids that distinguish simultaneously open
// instances of the same chain or multichain definition.
package contextid

import "sync/atomic"

// DefaultBase is the first id handed out by an allocator created with New(0).
// Its value is easy to recognize in logs and unlikely to collide with ids of
// other subsystems.
const DefaultBase int64 = 0x5E771_0000

// Allocator hands out unique, monotonically increasing ids. It is safe for
// concurrent use.
type Allocator struct {
	last atomic.Int64
}

// New creates an allocator whose first id is base, or DefaultBase when base is 0.
func New(base int64) *Allocator {
	if base == 0 {
		base = DefaultBase
	}
	a := &Allocator{}
	a.last.Store(base - 1)
	return a
}

// Next returns a new id.
func (a *Allocator) Next() int64 {
	return a.last.Add(1)
}

// Last returns the most recently allocated id.
func (a *Allocator) Last() int64 {
	return a.last.Load()
}
