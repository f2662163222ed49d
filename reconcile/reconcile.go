// Package reconcile implements C5, the desired/installed flow-and-group
// diffing engine of spec.md §4.5: given the current desired flow and
// group stores, it emits the minimal set of FlowMod/GroupMod messages
// needed to make the switch match, in the fixed order group-adds,
// flow-deletes, flow-modifies, flow-adds, group-deletes.
package reconcile

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cabmario/ofcore/flowtable"
	"github.com/cabmario/ofcore/grouptable"
	"github.com/cabmario/ofcore/ofconn"
	"github.com/cabmario/ofcore/ofp13"
)

// Reconciler holds the installed-flow shadow state and drives one
// diff/emit pass per Put call.
type Reconciler struct {
	conn      *ofconn.Conn
	installed *flowtable.Store
	log       *zap.SugaredLogger

	xidCounter uint32
}

// New returns a Reconciler with an empty installed-flow store.
func New(conn *ofconn.Conn, log *zap.SugaredLogger) *Reconciler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reconciler{
		conn:      conn,
		installed: flowtable.NewStore(log),
		log:       log,
	}
}

// Installed exposes the internal installed-flow store, mainly so the TLV
// negotiator can wire its CLEAR_FLOWS entry action to it via the
// tlv.FlowClearer interface.
func (r *Reconciler) Installed() *flowtable.Store {
	return r.installed
}

func (r *Reconciler) newXid() uint32 {
	return atomic.AddUint32(&r.xidCounter, 1)
}

// Put runs one reconciliation pass against desired (the producer-facing
// flow store) and groups. ready gates whether any wire messages are
// emitted at all (spec.md §4.5: eligible only when the negotiator is in
// UPDATE_FLOWS and the transport has zero outstanding messages); callers
// compute that gate themselves since it spans two other packages'
// state. Even when !ready, desired_groups is drained so a producer's
// request is never queued indefinitely across a deferred tick (spec.md
// §8 invariant 5).
func (r *Reconciler) Put(ready bool, desired *flowtable.Store, groups *grouptable.Store) {
	if !ready {
		groups.Clear(grouptable.Desired)
		return
	}

	r.addGroups(groups)
	r.reconcileFlows(desired)
	r.insertFlows(desired)
	r.deleteAndPromoteGroups(groups)
}

// addGroups is phase 1: emit ADD for every desired group not already
// existing. A malformed spec does not abort the pass; every parse
// failure across the batch is collected and logged as one combined
// error once the loop finishes, rather than one log line per failure.
func (r *Reconciler) addGroups(groups *grouptable.Store) {
	var parseErrs error
	for groupID, spec := range groups.Desired() {
		if _, ok := groups.Lookup(grouptable.Existing, groupID); ok {
			continue
		}

		mod, err := ofp13.ParseGroupSpec(groupID, spec)
		if err != nil {
			parseErrs = multierr.Append(parseErrs, errors.Wrapf(err, "group_id %d", groupID))
			continue
		}
		mod.Xid = r.newXid()
		if err := r.conn.Send(mod); err != nil {
			r.log.Warnw("failed to send group add", "group_id", groupID, "error", err)
		}
	}
	if parseErrs != nil {
		r.log.Errorw("skipping groups with unparseable specs", "error", parseErrs)
	}
}

// reconcileFlows is phase 2: first retract every installed entry that no
// desired flow matches any more, then, for each surviving entry, reassign
// its owner and push updated actions, so every flow delete is sent before
// any flow modify. Per spec.md §4.5 and its open question on ordering,
// uuid reassignment happens before the actions comparison, using the
// now-current owner's actions.
func (r *Reconciler) reconcileFlows(desired *flowtable.Store) {
	var survivors []*flowtable.Flow
	for _, installedFlow := range r.installed.All() {
		if len(desired.Lookup(installedFlow.Key)) == 0 {
			r.deleteStrict(installedFlow)
			r.installed.RemoveEntry(installedFlow)
			continue
		}
		survivors = append(survivors, installedFlow)
	}

	for _, installedFlow := range survivors {
		winner := smallestUUID(desired.Lookup(installedFlow.Key))
		if winner.UUID != installedFlow.UUID {
			r.installed.Reassign(installedFlow, winner.UUID, installedFlow.Actions)
		}
		if !installedFlow.Actions.Equal(winner.Actions) {
			r.modifyStrict(installedFlow.Key, winner.Actions)
			r.installed.Reassign(installedFlow, installedFlow.UUID, winner.Actions)
		}
	}
}

// insertFlows is phase 3: for each desired key the installed store does
// not yet have any entry for, add the smallest-uuid candidate.
func (r *Reconciler) insertFlows(desired *flowtable.Store) {
	for _, key := range desired.DistinctKeys() {
		if len(r.installed.Lookup(key)) > 0 {
			continue
		}
		winner := smallestUUID(desired.Lookup(key))
		r.addFlow(key, winner.Actions)
		r.installed.AddFlow(key.TableID, key.Priority, key.Match, winner.Actions, winner.UUID)
	}
}

// deleteAndPromoteGroups is phase 4: delete every existing group no
// longer desired, then promote the whole desired set into existing.
func (r *Reconciler) deleteAndPromoteGroups(groups *grouptable.Store) {
	for groupID := range groups.Existing() {
		if _, ok := groups.Lookup(grouptable.Desired, groupID); ok {
			continue
		}
		mod := &ofp13.GroupMod{Xid: r.newXid(), Command: ofp13.GroupModDelete, GroupID: groupID}
		if err := r.conn.Send(mod); err != nil {
			r.log.Warnw("failed to send group delete", "group_id", groupID, "error", err)
		}
		groups.DeleteExisting(groupID)
	}
	groups.PromoteDesiredToExisting()
}

func (r *Reconciler) deleteStrict(f *flowtable.Flow) {
	mod := &ofp13.FlowMod{
		Xid:      r.newXid(),
		Command:  ofp13.FlowModDeleteStrict,
		TableID:  f.TableID,
		Priority: f.Priority,
		Match:    f.Match,
		BufferID: 0xffffffff,
		OutPort:  ofp13.PortAny,
		OutGroup: ofp13.GroupAny,
	}
	if err := r.conn.Send(mod); err != nil {
		r.log.Warnw("failed to send flow delete", "table_id", f.TableID, "priority", f.Priority, "error", err)
	}
}

func (r *Reconciler) modifyStrict(key flowtable.Key, actions ofp13.Actions) {
	mod := &ofp13.FlowMod{
		Xid:      r.newXid(),
		Command:  ofp13.FlowModModifyStrict,
		TableID:  key.TableID,
		Priority: key.Priority,
		Match:    key.Match,
		Actions:  actions,
		BufferID: 0xffffffff,
		OutPort:  ofp13.PortAny,
		OutGroup: ofp13.GroupAny,
	}
	if err := r.conn.Send(mod); err != nil {
		r.log.Warnw("failed to send flow modify", "table_id", key.TableID, "priority", key.Priority, "error", err)
	}
}

func (r *Reconciler) addFlow(key flowtable.Key, actions ofp13.Actions) {
	mod := &ofp13.FlowMod{
		Xid:      r.newXid(),
		Command:  ofp13.FlowModAdd,
		TableID:  key.TableID,
		Priority: key.Priority,
		Match:    key.Match,
		Actions:  actions,
		BufferID: 0xffffffff,
		OutPort:  ofp13.PortAny,
		OutGroup: ofp13.GroupAny,
	}
	if err := r.conn.Send(mod); err != nil {
		r.log.Warnw("failed to send flow add", "table_id", key.TableID, "priority", key.Priority, "error", err)
	}
}

// smallestUUID picks the deterministic tie-break winner among candidates
// sharing one key (spec.md §3 invariant 2, §4.5's "why smallest uuid").
func smallestUUID(candidates []*flowtable.Flow) *flowtable.Flow {
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.UUID.Less(winner.UUID) {
			winner = c
		}
	}
	return winner
}
