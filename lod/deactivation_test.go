package lod

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeactivationQueue(t *testing.T) {
	var q DeactivationQueue
	a := newCell(Coord{X: 1})
	b := newCell(Coord{X: 2})
	c := newCell(Coord{X: 3})

	q.push(a)
	q.push(b)
	q.push(c)
	q.push(b)
	require.Equal(t, 3, q.Len())
	require.True(t, b.Pending())

	t.Run("cancel", func(t *testing.T) {
		require.True(t, q.cancel(a))
		require.False(t, q.cancel(a))
		require.False(t, a.Pending())
		require.Equal(t, 2, q.Len())
		require.Equal(t, 0, c.pendingIndex)
		require.Same(t, c, q.cells[0])
	})

	t.Run("drain is rate limited", func(t *testing.T) {
		var drained []*Cell
		n := q.drain(1, func(cell *Cell) {
			drained = append(drained, cell)
		})
		require.Equal(t, 1, n)
		require.Len(t, drained, 1)
		require.False(t, drained[0].Pending())
		require.Equal(t, 1, q.Len())
	})

	t.Run("unlimited drain", func(t *testing.T) {
		q.push(a)
		n := q.drain(0, func(*Cell) {})
		require.Equal(t, 2, n)
		require.Zero(t, q.Len())
		require.False(t, a.Pending())
	})

	t.Run("reset", func(t *testing.T) {
		q.push(a)
		q.push(b)
		q.reset()
		require.Zero(t, q.Len())
		require.False(t, a.Pending())
		require.False(t, b.Pending())
	})
}

func TestTierSet(t *testing.T) {
	tiers := newTierSet(3)
	a := newCell(Coord{X: 1})
	b := newCell(Coord{X: 2})
	c := newCell(Coord{X: 3})

	tiers.set(a, 0)
	tiers.set(b, 0)
	tiers.set(c, 2)
	require.Equal(t, []int{2, 0, 1}, tiers.Counts())
	require.Equal(t, 3, tiers.ActiveCount())

	tiers.set(a, 1)
	require.Equal(t, []int{1, 1, 1}, tiers.Counts())
	require.Equal(t, 0, b.tierIndex)
	require.Equal(t, []*Cell{b}, tiers.Cells(0))

	tiers.remove(c)
	tiers.remove(c)
	require.Equal(t, TierInactive, c.Tier())
	require.Equal(t, 2, tiers.ActiveCount())
}

func TestHandleAllocator(t *testing.T) {
	var a handleAllocator
	require.Equal(t, uint32(1), a.next())
	require.Equal(t, uint32(2), a.next())
	require.Equal(t, uint32(3), a.next())

	a.release(1)
	a.release(3)
	require.Equal(t, uint32(3), a.next())
	require.Equal(t, uint32(1), a.next())
	require.Equal(t, uint32(4), a.next())
}
