// Package grouptable implements the group store of spec.md §4.4: desired
// and existing group sets keyed by 32-bit group id, sharing a bitmap id
// allocator where a group_id is allocated iff it appears in either set.
package grouptable

// Group is a (group_id, spec) pair; spec is the textual group
// specification the rule compiler produced, parsed into a wire GroupMod
// by ofp13.ParseGroupSpec at reconcile time (spec.md §3).
type Group struct {
	GroupID uint32
	Spec    string
}
