package flowtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cabmario/ofcore/ofp13"
)

func uuidOf(b byte) UUID {
	var u UUID
	u[15] = b
	return u
}

func TestAddFlowIdenticalDuplicateDropsSecond(t *testing.T) {
	s := NewStore(nil)
	u := uuidOf(1)
	match := ofp13.Match{ofp13.InPort(1)}
	actions := ofp13.NewActionBuilder().Output(2).Build()

	s.AddFlow(0, 100, match, actions, u)
	s.AddFlow(0, 100, match, actions, u)

	require.Equal(t, 1, s.Len())
}

func TestAddFlowDifferingActionsOverwrites(t *testing.T) {
	s := NewStore(nil)
	u := uuidOf(1)
	match := ofp13.Match{ofp13.InPort(1)}
	a1 := ofp13.NewActionBuilder().Output(2).Build()
	a2 := ofp13.NewActionBuilder().Output(3).Build()

	s.AddFlow(0, 100, match, a1, u)
	s.AddFlow(0, 100, match, a2, u)

	require.Equal(t, 1, s.Len())
	got := s.Lookup(Key{TableID: 0, Priority: 100, Match: match})
	require.Len(t, got, 1)
	require.True(t, got[0].Actions.Equal(a2))
}

func TestAddFlowSameKeyDifferentUUIDsBothKept(t *testing.T) {
	s := NewStore(nil)
	match := ofp13.Match{ofp13.InPort(1)}
	a1 := ofp13.NewActionBuilder().Output(1).Build()
	a2 := ofp13.NewActionBuilder().Output(2).Build()

	s.AddFlow(0, 100, match, a1, uuidOf(1))
	s.AddFlow(0, 100, match, a2, uuidOf(2))

	require.Equal(t, 2, s.Len())
	got := s.Lookup(Key{TableID: 0, Priority: 100, Match: match})
	require.Len(t, got, 2)
}

func TestRemoveFlowsRemovesOnlyThatUUID(t *testing.T) {
	s := NewStore(nil)
	match := ofp13.Match{ofp13.InPort(1)}
	s.AddFlow(0, 100, match, nil, uuidOf(1))
	s.AddFlow(0, 100, match, nil, uuidOf(2))

	s.RemoveFlows(uuidOf(1))

	require.Equal(t, 1, s.Len())
	got := s.Lookup(Key{TableID: 0, Priority: 100, Match: match})
	require.Len(t, got, 1)
	require.Equal(t, uuidOf(2), got[0].UUID)
}

func TestSetFlowRemovesAllOwnerFlowsThenAdds(t *testing.T) {
	s := NewStore(nil)
	u := uuidOf(1)
	m1 := ofp13.Match{ofp13.InPort(1)}
	m2 := ofp13.Match{ofp13.InPort(2)}

	s.AddFlow(0, 100, m1, nil, u)
	s.SetFlow(0, 200, m2, nil, u)

	require.Equal(t, 1, s.Len())
	require.Empty(t, s.Lookup(Key{TableID: 0, Priority: 100, Match: m1}))
	require.Len(t, s.Lookup(Key{TableID: 0, Priority: 200, Match: m2}), 1)
}

func TestClearEmptiesStore(t *testing.T) {
	s := NewStore(nil)
	s.AddFlow(0, 100, ofp13.Match{ofp13.InPort(1)}, nil, uuidOf(1))
	s.Clear()
	require.Equal(t, 0, s.Len())
}

func TestUUIDIndexConsistencyAfterMixedOps(t *testing.T) {
	s := NewStore(nil)
	m1 := ofp13.Match{ofp13.InPort(1)}
	m2 := ofp13.Match{ofp13.InPort(2)}

	s.AddFlow(0, 1, m1, nil, uuidOf(1))
	s.AddFlow(0, 2, m2, nil, uuidOf(1))
	s.AddFlow(0, 1, m1, nil, uuidOf(2))
	s.RemoveFlows(uuidOf(1))
	s.SetFlow(0, 3, m1, nil, uuidOf(2))

	// Only uuid 2's single flow (re-keyed by SetFlow) should remain, and
	// it must be reachable by both indexes.
	require.Equal(t, 1, s.Len())
	require.Len(t, s.Lookup(Key{TableID: 0, Priority: 3, Match: m1}), 1)
	require.Empty(t, s.Lookup(Key{TableID: 0, Priority: 1, Match: m1}))
	require.Len(t, s.byUUID[uuidOf(2)], 1)
	require.Empty(t, s.byUUID[uuidOf(1)])
}

func TestDistinctKeysDedupesAcrossUUIDs(t *testing.T) {
	s := NewStore(nil)
	match := ofp13.Match{ofp13.InPort(1)}
	s.AddFlow(0, 100, match, nil, uuidOf(1))
	s.AddFlow(0, 100, match, nil, uuidOf(2))
	s.AddFlow(1, 50, ofp13.Match{ofp13.InPort(2)}, nil, uuidOf(1))

	keys := s.DistinctKeys()
	require.Len(t, keys, 2)
}

func TestUUIDLessLexicographic(t *testing.T) {
	require.True(t, uuidOf(1).Less(uuidOf(2)))
	require.False(t, uuidOf(2).Less(uuidOf(1)))
	require.False(t, uuidOf(1).Less(uuidOf(1)))
}
