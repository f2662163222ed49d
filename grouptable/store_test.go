package grouptable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertDesiredMarksAllocated(t *testing.T) {
	s := NewStore()
	s.InsertDesired(5, "type=all,bucket=output:1")

	require.True(t, s.IsAllocated(5))
	spec, ok := s.Lookup(Desired, 5)
	require.True(t, ok)
	require.Equal(t, "type=all,bucket=output:1", spec)
}

func TestClearDesiredDeallocatesWhenNotInExisting(t *testing.T) {
	s := NewStore()
	s.InsertDesired(5, "spec")
	s.Clear(Desired)

	require.False(t, s.IsAllocated(5))
}

func TestClearDesiredKeepsAllocationIfInExisting(t *testing.T) {
	s := NewStore()
	s.InsertDesired(5, "spec")
	s.PromoteDesiredToExisting()
	s.InsertDesired(5, "spec-v2")
	s.Clear(Desired)

	require.True(t, s.IsAllocated(5))
	_, ok := s.Lookup(Existing, 5)
	require.True(t, ok)
}

func TestPromoteDesiredToExistingEmptiesDesired(t *testing.T) {
	s := NewStore()
	s.InsertDesired(1, "a")
	s.InsertDesired(2, "b")
	s.PromoteDesiredToExisting()

	require.Empty(t, s.Desired())
	require.Len(t, s.Existing(), 2)
}

func TestDeleteExistingDeallocatesWhenNotDesired(t *testing.T) {
	s := NewStore()
	s.InsertDesired(3, "a")
	s.PromoteDesiredToExisting()
	s.DeleteExisting(3)

	require.False(t, s.IsAllocated(3))
}

func TestNextFreePicksLowestUnused(t *testing.T) {
	s := NewStore()
	s.InsertDesired(0, "a")
	s.InsertDesired(1, "b")

	require.Equal(t, uint32(2), s.NextFree())
}
