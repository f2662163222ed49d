package ofp13

import "encoding/binary"

// Action types this module's builders emit. Values match the OpenFlow 1.3
// spec's OFPAT_* constants.
const (
	ActionTypeOutput   uint16 = 0
	ActionTypeSetField uint16 = 25
	ActionTypeGroup    uint16 = 22
)

// PortAny / PortController are well-known port numbers used by Output and
// by the catch-all delete flow mod.
const (
	PortController uint32 = 0xfffffffd
	PortAny        uint32 = 0xffffffff
)

// GroupAny is OFPG_ANY, used in catch-all deletes and as out_group on
// FlowMods that do not reference a group.
const GroupAny uint32 = 0xffffffff

// Actions is an opaque, ordered byte-encoded action list as spec.md §3
// describes: callers never need to decode it, only compare it byte-for-
// byte (Actions.Equal) and pass it through to the wire.
type Actions []byte

// Equal performs raw byte equality, the comparison spec.md §9 calls for.
func (a Actions) Equal(other Actions) bool {
	if len(a) != len(other) {
		return false
	}
	for i := range a {
		if a[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone deep-copies the action buffer; used when the installed-flow store
// takes ownership of a copy of a desired flow's actions (spec.md §3,
// Lifetimes).
func (a Actions) Clone() Actions {
	if a == nil {
		return nil
	}
	out := make(Actions, len(a))
	copy(out, a)
	return out
}

// ActionBuilder accumulates Actions in order; NewActionBuilder().Output(1).
// SetField(...).Build() mirrors the small typed constructors the teacher's
// ovs package exposes for match/action text, built here over binary
// action-list encoding instead.
type ActionBuilder struct {
	buf Actions
}

// NewActionBuilder returns an empty ActionBuilder.
func NewActionBuilder() *ActionBuilder {
	return &ActionBuilder{}
}

func pad4(n int) int {
	if rem := n % 4; rem != 0 {
		return n + (4 - rem)
	}
	return n
}

// Output appends OFPAT_OUTPUT to the action list.
func (b *ActionBuilder) Output(port uint32) *ActionBuilder {
	a := make([]byte, 16)
	binary.BigEndian.PutUint16(a[0:2], ActionTypeOutput)
	binary.BigEndian.PutUint16(a[2:4], 16)
	binary.BigEndian.PutUint32(a[4:8], port)
	binary.BigEndian.PutUint16(a[8:10], 0xffff) // max_len: no buffering limit
	b.buf = append(b.buf, a...)
	return b
}

// SetField appends OFPAT_SET_FIELD carrying a single OXM field.
func (b *ActionBuilder) SetField(f Field) *ActionBuilder {
	oxm := Match{f}.MarshalOXM()
	length := pad4(4 + len(oxm))
	a := make([]byte, 4, length)
	binary.BigEndian.PutUint16(a[0:2], ActionTypeSetField)
	a = append(a, oxm...)
	for len(a) < length {
		a = append(a, 0)
	}
	binary.BigEndian.PutUint16(a[2:4], uint16(length))
	b.buf = append(b.buf, a...)
	return b
}

// Group appends OFPAT_GROUP, referencing a group_id from the group store.
func (b *ActionBuilder) Group(groupID uint32) *ActionBuilder {
	a := make([]byte, 8)
	binary.BigEndian.PutUint16(a[0:2], ActionTypeGroup)
	binary.BigEndian.PutUint16(a[2:4], 8)
	binary.BigEndian.PutUint32(a[4:8], groupID)
	b.buf = append(b.buf, a...)
	return b
}

// Build returns the accumulated action list.
func (b *ActionBuilder) Build() Actions {
	return b.buf
}
