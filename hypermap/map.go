// Package hypermap implements the storage core of hypercache: a fixed-size,
// concurrency-safe, open-addressing slot table holding datachunk values.
//
// The map is allocated once and never grows. Every slot owns a reader-writer
// lock and a generation counter; callers access chunk values exclusively
// through short-lived Operators whose callbacks run under the slot lock and
// fail fast with ErrStaleOperator once the slot has moved on. Operations on
// different slots never contend, there is no map-wide lock.
//
// The map must not be destroyed or relocated while other goroutines still
// hold operators into it. Slots live for the lifetime of the map.
package hypermap

import (
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/megakuul/hypercache/datachunk"
)

// Constants for quadratic probing.
const (
	probeC1 = 1
	probeC2 = 3
)

// Map is a fixed-size open-addressing hash map from string keys to chunks.
type Map struct {
	slots []slot

	size uint32
	mask uint32

	occupied atomic.Int64

	hashFunc HashFunc
	logger   *zap.Logger
}

// Option configures a Map at construction.
type Option func(m *Map)

// WithHashFunc overrides the default fingerprint function. Mostly useful in
// tests to force collisions; production clients relying on pre-hashed keys
// must keep the default.
func WithHashFunc(f HashFunc) Option {
	return func(m *Map) {
		m.hashFunc = f
	}
}

// WithLogger attaches a structured logger. The map logs lifecycle events at
// debug level only; errors are always returned, never swallowed into logs.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Map) {
		m.logger = logger
	}
}

// New allocates a map with the given number of slots. The size must be a
// power of two greater than zero, because slot indexing trims the hash with
// a bitmask instead of a modulo.
func New(size int, opts ...Option) (*Map, error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConfiguration, size)
	}

	m := &Map{
		slots:  make([]slot, size),
		size:   uint32(size),
		mask:   uint32(size - 1),
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.hashFunc == nil {
		m.hashFunc = defaultHashFunc
	}

	m.logger.Debug("hypermap initialized", zap.Int("size", size))

	return m, nil
}

// probe walks the quadratic probe sequence for key. It stops at the slot
// holding key (found=true), at the first empty slot (found=false), or after
// size attempts (nil slot, the table is exhausted for this key).
//
// The walk only takes each visited slot's read lock for the key comparison;
// callers mutating the returned slot must lock it exclusively and revalidate.
func (m *Map) probe(key string) (s *slot, index uint32, found bool) {
	hash := m.hashFunc(key)
	idx := hash & m.mask

	for att := uint32(0); att <= m.size; att++ {
		if att > 0 {
			// Quadratic probing function
			idx = (hash + probeC1*att + probeC2*att*att) & m.mask
		}

		s := &m.slots[idx]

		s.mu.RLock()
		k := s.key
		s.mu.RUnlock()

		if k == "" || k == key {
			return s, idx, k == key
		}
	}

	return nil, 0, false
}

// Get returns an operator bound to the slot holding key, or false if the key
// is absent.
func (m *Map) Get(key string) (*Operator, bool) {
	s, idx, found := m.probe(key)
	if s == nil || !found {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// The slot may have been deleted or overwritten since the probe read.
	if s.key != key {
		return nil, false
	}

	return &Operator{slot: s, index: idx, generation: s.generation}, true
}

// Set assigns chunk to key, overwriting in place if the key already exists,
// and returns a fresh operator bound to the new generation. Fails with
// ErrMapExhausted if no slot can be located; the map never rehashes, so the
// caller has to reject the write or free capacity.
func (m *Map) Set(key string, chunk datachunk.Chunk) (*Operator, error) {
	for {
		s, idx, _ := m.probe(key)
		if s == nil {
			m.logger.Debug("set rejected, map exhausted", zap.String("key", key))

			return nil, fmt.Errorf("%w: no slot for key %q", ErrMapExhausted, key)
		}

		s.mu.Lock()

		// Revalidate: another writer may have claimed the slot between the
		// probe read and this lock. Restart the probe if so.
		if s.key != "" && s.key != key {
			s.mu.Unlock()

			continue
		}

		var r relics
		fresh := s.key == ""
		if !fresh {
			// Overwrite: the old chunk dies here, its cross-references
			// must be pruned.
			r = snapshotRefs(&s.chunk, datachunk.Ref{Slot: idx, Generation: s.generation})
		}

		s.key = key
		s.chunk = chunk
		s.touched = time.Now()
		s.generation++
		gen := s.generation

		s.mu.Unlock()

		if fresh {
			m.occupied.Add(1)
		}
		m.reconcile(r)

		return &Operator{slot: s, index: idx, generation: gen}, nil
	}
}

// Del removes key from the map. A no-op if the key is absent. Before the
// slot becomes reusable, every group that referenced the dead chunk (and
// every member the dead chunk referenced, if it was a group) is pruned.
func (m *Map) Del(key string) {
	s, idx, found := m.probe(key)
	if s == nil || !found {
		return
	}

	s.mu.Lock()

	if s.key != key {
		s.mu.Unlock()

		return
	}

	r := s.clearLocked(idx)

	s.mu.Unlock()

	m.occupied.Add(-1)
	m.reconcile(r)
}

// Load returns the number of occupied slots. The map enforces no load
// policy; keeping the load factor low is the caller's job.
func (m *Map) Load() int {
	return int(m.occupied.Load())
}

// Resolve turns a ref back into an operator, or returns false if the
// referenced slot is no longer at the ref's generation.
func (m *Map) Resolve(ref datachunk.Ref) (*Operator, bool) {
	if ref.Slot >= m.size {
		return nil, false
	}

	s := &m.slots[ref.Slot]

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.generation != ref.Generation || s.key == "" {
		return nil, false
	}

	return &Operator{slot: s, index: ref.Slot, generation: ref.Generation}, true
}

// All returns a lazy sequence over the occupied slots in index order. The
// sequence is restartable; ordering is an implementation detail and not
// stable across concurrent mutation. Operators yielded for slots mutated
// mid-iteration fail with ErrStaleOperator on use.
func (m *Map) All() iter.Seq2[string, *Operator] {
	return func(yield func(string, *Operator) bool) {
		for i := range m.slots {
			s := &m.slots[i]

			s.mu.RLock()
			key, gen := s.key, s.generation
			s.mu.RUnlock()

			if key == "" {
				continue
			}

			if !yield(key, &Operator{slot: s, index: uint32(i), generation: gen}) {
				return
			}
		}
	}
}

// Push adds member to group, maintaining both directions of the membership:
// the member's ref lands in the group's member set and the group's ref in
// the member's assignment set. If the member goes stale midway the group
// entry is rolled back.
func (m *Map) Push(group, member *Operator) error {
	gref, mref := group.Ref(), member.Ref()

	if err := group.Write(func(c *datachunk.Chunk) error {
		return c.PushMember(mref)
	}); err != nil {
		return err
	}

	if err := member.Write(func(c *datachunk.Chunk) error {
		c.AddAssignment(gref)

		return nil
	}); err != nil {
		_ = group.Write(func(c *datachunk.Chunk) error {
			return c.RemoveMember(mref)
		})

		return err
	}

	return nil
}

// Unlink removes member from group, dropping both directions. A stale
// member is tolerated: its back-references were already reconciled.
func (m *Map) Unlink(group, member *Operator) error {
	gref, mref := group.Ref(), member.Ref()

	if err := group.Write(func(c *datachunk.Chunk) error {
		return c.RemoveMember(mref)
	}); err != nil {
		return err
	}

	err := member.Write(func(c *datachunk.Chunk) error {
		c.RemoveAssignment(gref)

		return nil
	})
	if err != nil && !errors.Is(err, ErrStaleOperator) {
		return err
	}

	return nil
}

// Sweep deletes every slot whose last write is older than maxAge and
// returns the number of deleted slots. Reconciliation runs exactly as in
// Del. The map never schedules sweeps itself.
func (m *Map) Sweep(maxAge time.Duration) int {
	deadline := time.Now().Add(-maxAge)
	swept := 0

	for i := range m.slots {
		s := &m.slots[i]

		s.mu.Lock()

		if s.key == "" || s.touched.After(deadline) {
			s.mu.Unlock()

			continue
		}

		r := s.clearLocked(uint32(i))

		s.mu.Unlock()

		m.occupied.Add(-1)
		m.reconcile(r)
		swept++
	}

	if swept > 0 {
		m.logger.Debug("swept idle slots", zap.Int("count", swept))
	}

	return swept
}

// Reset empties every slot and bumps every generation, invalidating all
// outstanding operators. No reconciliation is needed, all chunks die at once.
func (m *Map) Reset() {
	for i := range m.slots {
		s := &m.slots[i]

		s.mu.Lock()
		s.key = ""
		s.chunk.Reset()
		s.touched = time.Time{}
		s.generation++
		s.mu.Unlock()
	}

	m.occupied.Store(0)
}

// reconcile prunes the cross-references a dead chunk left behind. Runs
// outside the dead slot's lock; each referenced slot is locked on its own,
// so slot locks never nest. Refs whose slot already moved to a newer
// generation are skipped.
func (m *Map) reconcile(r relics) {
	for _, ref := range r.assignments {
		m.withCurrent(ref, func(c *datachunk.Chunk) {
			// Kind guard cannot fire: only group chunks hand out their ref
			// through Push. Checked anyway to never drop the walk.
			_ = c.RemoveMember(r.self)
		})
	}

	for _, ref := range r.members {
		m.withCurrent(ref, func(c *datachunk.Chunk) {
			c.RemoveAssignment(r.self)
		})
	}
}

// withCurrent runs fn on the chunk at ref under its exclusive lock, if the
// slot is still at the ref's generation.
func (m *Map) withCurrent(ref datachunk.Ref, fn func(c *datachunk.Chunk)) {
	if ref.Slot >= m.size {
		return
	}

	s := &m.slots[ref.Slot]

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != ref.Generation {
		return
	}

	fn(&s.chunk)
}
