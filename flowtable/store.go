package flowtable

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cabmario/ofcore/ofp13"
)

// producerLogRate is the rate-limited-logging budget spec.md §9 calls for:
// five messages per second with a small burst, one token bucket per
// call site (duplicate-same-actions vs duplicate-differing-actions).
const (
	producerLogRate  = 5
	producerLogBurst = 2
)

// Store is the desired-flow store of spec.md §4.3. It is built as an
// arena of stable-indexed entries plus two hash indexes, per the design
// notes in spec.md §9: this avoids the aliasing hazards of a single heap
// object referenced by two intrusive list nodes.
type Store struct {
	arena  []*Flow
	free   []int
	byKey  map[uint64][]int
	byUUID map[UUID][]int

	log        *zap.SugaredLogger
	infoLimit  *rate.Limiter
	warnLimit  *rate.Limiter
}

// NewStore returns an empty Store. A nil logger disables logging.
func NewStore(log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		byKey:     make(map[uint64][]int),
		byUUID:    make(map[UUID][]int),
		log:       log,
		infoLimit: rate.NewLimiter(producerLogRate, producerLogBurst),
		warnLimit: rate.NewLimiter(producerLogRate, producerLogBurst),
	}
}

// AddFlow inserts a new flow, resolving duplicates per spec.md invariant 1.
func (s *Store) AddFlow(tableID uint8, priority uint16, match ofp13.Match, actions ofp13.Actions, uuid UUID) {
	key := Key{TableID: tableID, Priority: priority, Match: match}

	for _, idx := range s.byKey[key.hash()] {
		existing := s.arena[idx]
		if existing == nil || existing.UUID != uuid || !existing.Key.equal(key) {
			continue
		}

		if existing.Actions.Equal(actions) {
			if s.infoLimit.Allow() {
				s.log.Infow("dropping duplicate flow with identical actions",
					"uuid", uuid.String(), "table_id", tableID, "priority", priority)
			}
			return
		}

		if s.warnLimit.Allow() {
			s.log.Warnw("producer re-added flow with different actions; overwriting",
				"uuid", uuid.String(), "table_id", tableID, "priority", priority)
		}
		existing.Actions = actions.Clone()
		return
	}

	s.insert(&Flow{Key: key, Actions: actions.Clone(), UUID: uuid})
}

// insert appends a new flow to the arena (reusing a freed slot if any)
// and registers it in both indexes.
func (s *Store) insert(f *Flow) {
	var idx int
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
		s.arena[idx] = f
	} else {
		idx = len(s.arena)
		s.arena = append(s.arena, f)
	}

	h := f.Key.hash()
	s.byKey[h] = append(s.byKey[h], idx)
	s.byUUID[f.UUID] = append(s.byUUID[f.UUID], idx)
}

// RemoveFlows removes every flow owned by uuid, O(k) in the number of
// flows uuid owns via the UUID index (spec.md §4.3).
func (s *Store) RemoveFlows(uuid UUID) {
	indices := s.byUUID[uuid]
	for _, idx := range indices {
		f := s.arena[idx]
		if f == nil {
			continue
		}
		s.removeFromKeyIndex(f.Key.hash(), idx)
		s.arena[idx] = nil
		s.free = append(s.free, idx)
	}
	delete(s.byUUID, uuid)
}

func (s *Store) removeFromKeyIndex(h uint64, idx int) {
	bucket := s.byKey[h]
	for i, v := range bucket {
		if v == idx {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(s.byKey, h)
	} else {
		s.byKey[h] = bucket
	}
}

func (s *Store) removeFromUUIDIndex(uuid UUID, idx int) {
	bucket := s.byUUID[uuid]
	for i, v := range bucket {
		if v == idx {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(s.byUUID, uuid)
	} else {
		s.byUUID[uuid] = bucket
	}
}

// RemoveEntry removes exactly f, as opposed to RemoveFlows which removes
// every flow f's owner has. Used by the reconciler to retract a single
// installed entry whose key no longer matches anything desired (spec.md
// §4.5 phase 2).
func (s *Store) RemoveEntry(f *Flow) {
	h := f.Key.hash()
	for _, idx := range s.byKey[h] {
		if s.arena[idx] == f {
			s.removeFromKeyIndex(h, idx)
			s.removeFromUUIDIndex(f.UUID, idx)
			s.arena[idx] = nil
			s.free = append(s.free, idx)
			return
		}
	}
}

// Reassign updates f's owning uuid and/or actions in place, keeping the
// uuid index consistent by recomputing rather than carrying over any
// stale index state (spec.md §9's open question on this point: recompute,
// don't copy, since the index is a pure function of the uuid).
func (s *Store) Reassign(f *Flow, newUUID UUID, newActions ofp13.Actions) {
	if newUUID != f.UUID {
		h := f.Key.hash()
		for _, idx := range s.byKey[h] {
			if s.arena[idx] == f {
				s.removeFromUUIDIndex(f.UUID, idx)
				f.UUID = newUUID
				s.byUUID[newUUID] = append(s.byUUID[newUUID], idx)
				break
			}
		}
	}
	f.Actions = newActions.Clone()
}

// All returns every flow currently in the store, in no particular order.
// Used by the reconciler to walk the installed-flow store's entries
// (spec.md §4.5 phase 2).
func (s *Store) All() []*Flow {
	out := make([]*Flow, 0, len(s.arena))
	for _, f := range s.arena {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// SetFlow is equivalent to RemoveFlows(uuid) followed by AddFlow(...),
// matching spec.md §4.3 exactly.
func (s *Store) SetFlow(tableID uint8, priority uint16, match ofp13.Match, actions ofp13.Actions, uuid UUID) {
	s.RemoveFlows(uuid)
	s.AddFlow(tableID, priority, match, actions, uuid)
}

// Clear empties the store, releasing all owned action buffers.
func (s *Store) Clear() {
	s.arena = nil
	s.free = nil
	s.byKey = make(map[uint64][]int)
	s.byUUID = make(map[UUID][]int)
}

// ClearInstalled is Clear under the name the TLV negotiator calls on
// entry to CLEAR_FLOWS, once it assumes the switch's table has been wiped
// out from under this store's bookkeeping (spec.md §4.2).
func (s *Store) ClearInstalled() {
	s.Clear()
}

// Lookup returns every flow in the store whose (table_id, priority,
// match) equals key, across all owning UUIDs (spec.md invariant 2).
func (s *Store) Lookup(key Key) []*Flow {
	var out []*Flow
	for _, idx := range s.byKey[key.hash()] {
		f := s.arena[idx]
		if f != nil && f.Key.equal(key) {
			out = append(out, f)
		}
	}
	return out
}

// DistinctKeys returns one Key per distinct (table_id, priority, match)
// tuple currently present in the store, used by the reconciler's flow-
// insertion phase to enumerate desired keys (spec.md §4.5 phase 3).
func (s *Store) DistinctKeys() []Key {
	var out []Key
	for h, indices := range s.byKey {
		for _, idx := range indices {
			f := s.arena[idx]
			if f == nil {
				continue
			}
			// A hash bucket can hold multiple distinct keys on collision;
			// dedupe by doing a full equality scan against already-seen
			// keys in this bucket rather than trusting the hash alone.
			dup := false
			for _, prev := range out {
				if prev.hash() == h && prev.equal(f.Key) {
					dup = true
					break
				}
			}
			if !dup {
				out = append(out, f.Key)
			}
		}
	}
	return out
}

// Len reports how many flows are currently stored.
func (s *Store) Len() int {
	n := 0
	for _, f := range s.arena {
		if f != nil {
			n++
		}
	}
	return n
}
