package hypermap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/megakuul/hypercache/datachunk"
)

func members(t *testing.T, op *Operator) []datachunk.Ref {
	t.Helper()

	var refs []datachunk.Ref
	require.NoError(t, op.Read(func(c *datachunk.Chunk) error {
		var err error
		refs, err = c.Members()

		return err
	}))

	return refs
}

func assignments(t *testing.T, op *Operator) []datachunk.Ref {
	t.Helper()

	var refs []datachunk.Ref
	require.NoError(t, op.Read(func(c *datachunk.Chunk) error {
		refs = c.Assignments()

		return nil
	}))

	return refs
}

func TestMap_Push(t *testing.T) {
	m := newMap(t, 16)

	gop, err := m.Set("group", datachunk.NewGroup())
	require.NoError(t, err)

	mop, err := m.Set("member", datachunk.NewCount(1))
	require.NoError(t, err)

	require.NoError(t, m.Push(gop, mop))

	// Both directions of the membership exist.
	require.ElementsMatch(t, []datachunk.Ref{mop.Ref()}, members(t, gop))
	require.ElementsMatch(t, []datachunk.Ref{gop.Ref()}, assignments(t, mop))

	// The member resolves back through its ref.
	resolved, ok := m.Resolve(members(t, gop)[0])
	require.True(t, ok)

	require.NoError(t, resolved.Read(func(c *datachunk.Chunk) error {
		v, err := c.Count()
		require.NoError(t, err)
		require.Equal(t, uint64(1), v)

		return nil
	}))
}

func TestMap_Push_NotAGroup(t *testing.T) {
	m := newMap(t, 16)

	gop, err := m.Set("not-a-group", datachunk.NewCount(0))
	require.NoError(t, err)

	mop, err := m.Set("member", datachunk.NewCount(1))
	require.NoError(t, err)

	require.ErrorIs(t, m.Push(gop, mop), datachunk.ErrTypeMismatch)

	// Nothing half-linked is left behind.
	require.Empty(t, assignments(t, mop))
}

func TestMap_Push_StaleMember(t *testing.T) {
	m := newMap(t, 16)

	gop, err := m.Set("group", datachunk.NewGroup())
	require.NoError(t, err)

	mop, err := m.Set("member", datachunk.NewCount(1))
	require.NoError(t, err)

	m.Del("member")

	require.ErrorIs(t, m.Push(gop, mop), ErrStaleOperator)

	// The group entry was rolled back.
	require.Empty(t, members(t, gop))
}

func TestMap_Unlink(t *testing.T) {
	m := newMap(t, 16)

	gop, err := m.Set("group", datachunk.NewGroup())
	require.NoError(t, err)

	mop, err := m.Set("member", datachunk.NewCount(1))
	require.NoError(t, err)

	require.NoError(t, m.Push(gop, mop))
	require.NoError(t, m.Unlink(gop, mop))

	require.Empty(t, members(t, gop))
	require.Empty(t, assignments(t, mop))
}

func TestMap_Del_PrunesGroup(t *testing.T) {
	m := newMap(t, 16)

	gop, err := m.Set("group", datachunk.NewGroup())
	require.NoError(t, err)

	mop, err := m.Set("member", datachunk.NewCount(1))
	require.NoError(t, err)

	require.NoError(t, m.Push(gop, mop))

	mref := mop.Ref()

	m.Del("member")

	// The group no longer yields a usable reference to the dead member.
	require.Empty(t, members(t, gop))

	_, ok := m.Resolve(mref)
	require.False(t, ok)

	// Pruning mutated the group's chunk without invalidating its operator:
	// only destructive key-level updates bump generations.
	require.NoError(t, gop.Read(func(*datachunk.Chunk) error { return nil }))
}

func TestMap_Overwrite_PrunesGroup(t *testing.T) {
	m := newMap(t, 16)

	gop, err := m.Set("group", datachunk.NewGroup())
	require.NoError(t, err)

	mop, err := m.Set("member", datachunk.NewCount(1))
	require.NoError(t, err)

	require.NoError(t, m.Push(gop, mop))

	// Overwriting the member's slot kills the old chunk just like a delete.
	_, err = m.Set("member", datachunk.NewProto([]byte("reborn")))
	require.NoError(t, err)

	require.Empty(t, members(t, gop))
}

func TestMap_Del_Group_PrunesBackrefs(t *testing.T) {
	m := newMap(t, 16)

	gop, err := m.Set("group", datachunk.NewGroup())
	require.NoError(t, err)

	m1, err := m.Set("m1", datachunk.NewCount(1))
	require.NoError(t, err)

	m2, err := m.Set("m2", datachunk.NewCount(2))
	require.NoError(t, err)

	require.NoError(t, m.Push(gop, m1))
	require.NoError(t, m.Push(gop, m2))

	m.Del("group")

	// Deleting the group removes its back-reference from every member.
	require.Empty(t, assignments(t, m1))
	require.Empty(t, assignments(t, m2))
}

func TestMap_GroupInGroup(t *testing.T) {
	m := newMap(t, 16)

	outer, err := m.Set("outer", datachunk.NewGroup())
	require.NoError(t, err)

	inner, err := m.Set("inner", datachunk.NewGroup())
	require.NoError(t, err)

	mop, err := m.Set("member", datachunk.NewCount(1))
	require.NoError(t, err)

	// Groups can be members of groups.
	require.NoError(t, m.Push(outer, inner))
	require.NoError(t, m.Push(inner, mop))

	m.Del("inner")

	require.Empty(t, members(t, outer))
	require.Empty(t, assignments(t, mop))
}

func TestMap_Sweep(t *testing.T) {
	m := newMap(t, 16)

	_, err := m.Set("a", datachunk.NewCount(1))
	require.NoError(t, err)

	_, err = m.Set("b", datachunk.NewProto([]byte("b")))
	require.NoError(t, err)

	// Nothing is old enough yet.
	require.Equal(t, 0, m.Sweep(time.Hour))
	require.Equal(t, 2, m.Load())

	time.Sleep(5 * time.Millisecond)

	require.Equal(t, 2, m.Sweep(0))
	require.Equal(t, 0, m.Load())

	_, ok := m.Get("a")
	require.False(t, ok)
}

func TestMap_Sweep_RefreshedByWrite(t *testing.T) {
	m := newMap(t, 16)

	opA, err := m.Set("a", datachunk.NewCount(0))
	require.NoError(t, err)

	_, err = m.Set("b", datachunk.NewCount(0))
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	// A write through the operator refreshes the touched time of "a" only.
	require.NoError(t, opA.Write(func(c *datachunk.Chunk) error {
		_, err := c.IncCount(1)

		return err
	}))

	require.Equal(t, 1, m.Sweep(5*time.Millisecond))

	_, ok := m.Get("a")
	require.True(t, ok)

	_, ok = m.Get("b")
	require.False(t, ok)
}

func TestMap_Sweep_Reconciles(t *testing.T) {
	m := newMap(t, 16)

	gop, err := m.Set("group", datachunk.NewGroup())
	require.NoError(t, err)

	mop, err := m.Set("member", datachunk.NewCount(1))
	require.NoError(t, err)

	require.NoError(t, m.Push(gop, mop))

	time.Sleep(10 * time.Millisecond)

	// Keep the group fresh so only the member expires.
	require.NoError(t, gop.Write(func(*datachunk.Chunk) error { return nil }))

	require.Equal(t, 1, m.Sweep(5*time.Millisecond))

	require.Empty(t, members(t, gop))
}
