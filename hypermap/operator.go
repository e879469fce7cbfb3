package hypermap

import (
	"time"

	"github.com/megakuul/hypercache/datachunk"
)

// Operator is a short-lived handle to one slot, bound to the generation the
// slot had when the operator was obtained. It is the only way to touch a
// chunk: callbacks run under the slot's lock and receive a pointer into the
// inline slot storage.
//
// IMPORTANT: the chunk pointer is only valid inside the callback. Never
// retain it or anything aliasing it (e.g. a Proto slice) after the callback
// returns; the slot lock is released at that point.
//
// Once the slot is overwritten, deleted or swept, every call fails with
// ErrStaleOperator. That is not corruption: fetch a fresh operator and retry.
type Operator struct {
	slot       *slot
	index      uint32
	generation uint64
}

// Ref returns the generation-checked handle to the bound slot, for use in
// group memberships.
func (o *Operator) Ref() datachunk.Ref {
	return datachunk.Ref{Slot: o.index, Generation: o.generation}
}

// Read runs fn with the slot's chunk under the shared lock. Concurrent
// readers of the same slot do not block each other. fn must not mutate the
// chunk. Errors from fn pass through unchanged.
func (o *Operator) Read(fn func(c *datachunk.Chunk) error) error {
	o.slot.mu.RLock()
	defer o.slot.mu.RUnlock()

	if o.slot.generation != o.generation {
		return ErrStaleOperator
	}

	return fn(&o.slot.chunk)
}

// Write runs fn with the slot's chunk under the exclusive lock and refreshes
// the slot's touched time. Writing through an operator does not bump the
// generation; only destructive map operations do.
func (o *Operator) Write(fn func(c *datachunk.Chunk) error) error {
	o.slot.mu.Lock()
	defer o.slot.mu.Unlock()

	if o.slot.generation != o.generation {
		return ErrStaleOperator
	}

	o.slot.touched = time.Now()

	return fn(&o.slot.chunk)
}

// Touched returns the time of the slot's last write.
func (o *Operator) Touched() (time.Time, error) {
	o.slot.mu.RLock()
	defer o.slot.mu.RUnlock()

	if o.slot.generation != o.generation {
		return time.Time{}, ErrStaleOperator
	}

	return o.slot.touched, nil
}
