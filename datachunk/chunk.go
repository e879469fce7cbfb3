// Package datachunk implements the polymorphic value chunks stored in a
// hypermap slot. A Chunk is a tagged union with three cases (counter, proto
// bytes, group) sharing one operation surface; calling an operation the
// active case does not support fails with ErrTypeMismatch instead of
// returning a default.
//
// Chunks reference each other through Refs, (slot index, generation) pairs
// resolved by the owning map, instead of pointers. A Ref to a slot that has
// since been overwritten or deleted simply no longer resolves.
package datachunk

import (
	"errors"
	"fmt"
)

// ErrTypeMismatch is returned when an operation is invoked on a chunk whose
// active case does not support it. It is caused by the client, so it is safe
// to report directly to the caller that issued the operation.
var ErrTypeMismatch = errors.New("chunk type mismatch")

// QuickCap is the largest proto payload stored in the inline quick buffer.
// Larger payloads spill to a heap-allocated bulk buffer; both paths expose
// the same read contract.
const QuickCap = 255

// Kind identifies the active case of a chunk.
type Kind uint8

const (
	KindNone Kind = iota
	KindCount
	KindProto
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindCount:
		return "count"
	case KindProto:
		return "proto"
	case KindGroup:
		return "group"
	default:
		return "none"
	}
}

// Ref is a generation-checked handle to another slot's chunk. It replaces
// weak pointers: the owning map resolves a Ref and rejects it if the slot's
// generation moved on.
type Ref struct {
	Slot       uint32
	Generation uint64
}

// Chunk is one slot's value. The zero value is KindNone.
//
// Chunks are stored inline in the slot array and must only be touched under
// the slot's lock, through an operator. The assignment set (groups containing
// this chunk) is maintained for every kind, the member set only for groups.
type Chunk struct {
	kind Kind

	count uint64

	quickMode bool
	quickSize uint8
	quick     [QuickCap]byte
	bulk      []byte

	members     map[Ref]struct{}
	assignments map[Ref]struct{}
}

// NewCount returns a counter chunk initialized to v.
func NewCount(v uint64) Chunk {
	return Chunk{kind: KindCount, count: v}
}

// NewProto returns a proto chunk holding a copy of b.
func NewProto(b []byte) Chunk {
	c := Chunk{kind: KindProto, quickMode: true}
	c.setProto(b)

	return c
}

// NewGroup returns an empty group chunk.
func NewGroup() Chunk {
	return Chunk{kind: KindGroup, members: map[Ref]struct{}{}}
}

// Kind returns the active case.
func (c *Chunk) Kind() Kind {
	return c.kind
}

// Reset returns the chunk to KindNone, dropping all buffers and sets.
func (c *Chunk) Reset() {
	*c = Chunk{}
}

func (c *Chunk) mismatch(want Kind) error {
	return fmt.Errorf("%w: chunk is %s, not %s", ErrTypeMismatch, c.kind, want)
}

// Count returns the counter value.
func (c *Chunk) Count() (uint64, error) {
	if c.kind != KindCount {
		return 0, c.mismatch(KindCount)
	}

	return c.count, nil
}

// SetCount overwrites the counter value and returns it.
func (c *Chunk) SetCount(v uint64) (uint64, error) {
	if c.kind != KindCount {
		return 0, c.mismatch(KindCount)
	}

	c.count = v

	return c.count, nil
}

// IncCount adds delta to the counter and returns the result. Arithmetic wraps
// modulo 2^64: max+1 yields 0, 0-1 yields max. No saturation, no error.
func (c *Chunk) IncCount(delta int64) (uint64, error) {
	if c.kind != KindCount {
		return 0, c.mismatch(KindCount)
	}

	c.count += uint64(delta)

	return c.count, nil
}

// Proto returns the payload. The slice aliases the chunk's internal storage
// and must not be retained outside the operator callback it was obtained in.
func (c *Chunk) Proto() ([]byte, error) {
	if c.kind != KindProto {
		return nil, c.mismatch(KindProto)
	}

	if c.quickMode {
		return c.quick[:c.quickSize], nil
	}

	return c.bulk, nil
}

// SetProto replaces the payload and returns the stored bytes. Payloads up to
// QuickCap land in the inline buffer with no allocation; larger ones go to
// the bulk buffer. The returned slice aliases internal storage.
func (c *Chunk) SetProto(b []byte) ([]byte, error) {
	if c.kind != KindProto {
		return nil, c.mismatch(KindProto)
	}

	return c.setProto(b), nil
}

func (c *Chunk) setProto(b []byte) []byte {
	if len(b) <= QuickCap {
		if !c.quickMode {
			// Release the bulk buffer when dropping back to quick mode.
			c.bulk = nil
			c.quickMode = true
		}

		c.quickSize = uint8(len(b))
		copy(c.quick[:], b)

		return c.quick[:c.quickSize]
	}

	c.quickMode = false
	c.bulk = append(c.bulk[:0], b...)

	return c.bulk
}

// Members returns the refs of all chunks in the group. Order is unspecified.
func (c *Chunk) Members() ([]Ref, error) {
	if c.kind != KindGroup {
		return nil, c.mismatch(KindGroup)
	}

	members := make([]Ref, 0, len(c.members))
	for ref := range c.members {
		members = append(members, ref)
	}

	return members, nil
}

// PushMember adds ref to the group's member set. The corresponding
// back-reference on the member is maintained by the map, not here.
func (c *Chunk) PushMember(ref Ref) error {
	if c.kind != KindGroup {
		return c.mismatch(KindGroup)
	}

	if c.members == nil {
		c.members = map[Ref]struct{}{}
	}
	c.members[ref] = struct{}{}

	return nil
}

// RemoveMember removes ref from the group's member set.
func (c *Chunk) RemoveMember(ref Ref) error {
	if c.kind != KindGroup {
		return c.mismatch(KindGroup)
	}

	delete(c.members, ref)

	return nil
}

// Assignments returns the refs of all groups this chunk belongs to.
// Available for every kind.
func (c *Chunk) Assignments() []Ref {
	assignments := make([]Ref, 0, len(c.assignments))
	for ref := range c.assignments {
		assignments = append(assignments, ref)
	}

	return assignments
}

// AddAssignment records that the group at ref contains this chunk.
func (c *Chunk) AddAssignment(ref Ref) {
	if c.assignments == nil {
		c.assignments = map[Ref]struct{}{}
	}
	c.assignments[ref] = struct{}{}
}

// RemoveAssignment drops the back-reference to the group at ref.
func (c *Chunk) RemoveAssignment(ref Ref) {
	delete(c.assignments, ref)
}
