// Package flowtable implements the desired-flow store (spec.md §4.3): an
// in-memory set of Flows double-indexed by match-key and by owning UUID,
// so the reconciler can do O(1) expected key lookups while producers can
// still bulk-remove everything a given logical source owns.
package flowtable

import (
	"fmt"

	"github.com/cabmario/ofcore/ofp13"
)

// UUID is the 128-bit identifier of the logical source that caused a flow
// to exist (spec.md §3). Comparison is lexicographic byte order, used by
// the reconciler's deterministic tie-break (spec.md §4.5).
type UUID [16]byte

// Less reports whether u is numerically smaller than other under
// lexicographic byte-order comparison (spec.md invariant 2).
func (u UUID) Less(other UUID) bool {
	for i := range u {
		if u[i] != other[i] {
			return u[i] < other[i]
		}
	}
	return false
}

func (u UUID) String() string {
	return fmt.Sprintf("%x", [16]byte(u))
}

// Key is the (table_id, priority, match) tuple a flow is keyed by within
// one UUID, and across which exactly one owner is chosen at reconcile
// time (spec.md invariants 1 and 2).
type Key struct {
	TableID  uint8
	Priority uint16
	Match    ofp13.Match
}

// hash combines (table_id << 16 | priority) with a stable hash of match,
// matching spec.md §4.3's "two-word combination" hashing scheme.
func (k Key) hash() uint64 {
	head := uint64(k.TableID)<<16 | uint64(k.Priority)
	return head ^ (k.Match.Hash() * 1099511628211)
}

// equal reports whether k and other name the same flow table slot.
func (k Key) equal(other Key) bool {
	return k.TableID == other.TableID &&
		k.Priority == other.Priority &&
		k.Match.Equal(other.Match)
}

// Flow is the central entity of this module: a single candidate flow-
// table entry plus the identity of the logical source that wants it
// installed (spec.md §3).
type Flow struct {
	Key
	Actions ofp13.Actions
	UUID    UUID
}

// Clone deep-copies f, including its action buffer. Used when the
// reconciler's installed store takes ownership of a copy at install time
// (spec.md §3, Lifetimes; §9 design notes).
func (f *Flow) Clone() *Flow {
	return &Flow{
		Key:     Key{TableID: f.TableID, Priority: f.Priority, Match: f.Match},
		Actions: f.Actions.Clone(),
		UUID:    f.UUID,
	}
}
