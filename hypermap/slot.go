package hypermap

import (
	"sync"
	"time"

	"github.com/megakuul/hypercache/datachunk"
)

// slot is one fixed cell of the map. The empty state is an empty key, there
// is no separate flag.
//
// key, chunk, generation and touched change together, only under mu held
// exclusively. The generation is bumped on every destructive update (set,
// delete, reset) and invalidates every operator bound to the previous state.
// Plain writes through an operator do not bump it.
type slot struct {
	mu sync.RWMutex

	generation uint64
	key        string
	touched    time.Time
	chunk      datachunk.Chunk
}

// clearLocked empties the slot and bumps its generation. mu must be held
// exclusively. Returns the refs that have to be reconciled afterwards,
// outside the lock.
func (s *slot) clearLocked(index uint32) relics {
	r := snapshotRefs(&s.chunk, datachunk.Ref{Slot: index, Generation: s.generation})

	s.key = ""
	s.chunk.Reset()
	s.touched = time.Time{}
	s.generation++

	return r
}

// relics are the cross-references a dead chunk leaves behind: the groups
// that contained it and, if it was a group, the members it pointed at.
type relics struct {
	self        datachunk.Ref
	members     []datachunk.Ref
	assignments []datachunk.Ref
}

func snapshotRefs(c *datachunk.Chunk, self datachunk.Ref) relics {
	r := relics{self: self, assignments: c.Assignments()}

	if c.Kind() == datachunk.KindGroup {
		// Members never errors for a group chunk.
		r.members, _ = c.Members()
	}

	return r
}
