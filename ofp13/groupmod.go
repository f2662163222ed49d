package ofp13

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// GroupModCommand is the OFPGC11_* command code of a GroupMod.
type GroupModCommand uint16

// GroupModCommand values used by the reconciler (spec.md §4.5).
const (
	GroupModAdd    GroupModCommand = 0
	GroupModDelete GroupModCommand = 2
)

// GroupType is the OFPGT11_* bucket-selection semantics of a group.
type GroupType uint8

// GroupType values a parsed group spec may select.
const (
	GroupTypeAll      GroupType = 0
	GroupTypeSelect   GroupType = 1
	GroupTypeIndirect GroupType = 2
	GroupTypeFastFail GroupType = 3
)

// GroupMod is an OFPT_GROUP_MOD message.
type GroupMod struct {
	Xid     uint32
	Command GroupModCommand
	Type    GroupType
	GroupID uint32
	Buckets []Bucket
}

// Bucket is one OFPGT bucket: a weight (used only by GroupTypeSelect) and
// an action list to apply when the bucket is chosen.
type Bucket struct {
	Weight  uint16
	Actions Actions
}

// NewCatchAllGroupDelete builds the "delete all groups" GroupMod the
// negotiator sends on entry to CLEAR_FLOWS (spec.md §4.2).
func NewCatchAllGroupDelete(xid uint32) *GroupMod {
	return &GroupMod{Xid: xid, Command: GroupModDelete, Type: GroupTypeAll, GroupID: GroupAny}
}

// MarshalBinary encodes g as a complete, framed OFPT_GROUP_MOD message.
func (g *GroupMod) MarshalBinary() ([]byte, error) {
	body := make([]byte, 8)
	binary.BigEndian.PutUint16(body[0:2], uint16(g.Command))
	body[2] = uint8(g.Type)
	binary.BigEndian.PutUint32(body[4:8], g.GroupID)

	var bucketsBuf []byte
	for _, b := range g.Buckets {
		bl := pad4(16 + len(b.Actions))
		bb := make([]byte, 16, bl)
		binary.BigEndian.PutUint16(bb[0:2], uint16(bl))
		binary.BigEndian.PutUint16(bb[2:4], b.Weight)
		binary.BigEndian.PutUint32(bb[4:8], PortAny)
		binary.BigEndian.PutUint32(bb[8:12], GroupAny)
		bb = append(bb, b.Actions...)
		for len(bb) < bl {
			bb = append(bb, 0)
		}
		bucketsBuf = append(bucketsBuf, bb...)
	}

	total := HeaderLen + len(body) + len(bucketsBuf)
	h := Header{Version: Version, Type: TypeGroupMod, Length: uint16(total), Xid: g.Xid}
	hb, _ := h.MarshalBinary()

	out := make([]byte, 0, total)
	out = append(out, hb...)
	out = append(out, body...)
	out = append(out, bucketsBuf...)
	return out, nil
}

// ParseGroupSpec parses the textual group specification stored in a
// grouptable.Group entry into a wire GroupMod body. The accepted syntax is
// deliberately small and mirrors how the teacher's ovs package exposes
// group_id/type/bucket text for ovs-ofctl: a comma-separated key=value
// list, e.g. "group_id=12,type=select,bucket=output:1,bucket=output:2".
//
// Only output actions are supported in bucket text; richer action lists
// are built programmatically elsewhere and this parser is reserved for
// the common select/all fan-out case the rule compiler emits as text.
func ParseGroupSpec(groupID uint32, spec string) (*GroupMod, error) {
	gm := &GroupMod{Command: GroupModAdd, GroupID: groupID, Type: GroupTypeAll}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("ofp13: malformed group spec token %q", part)
		}
		key, value := kv[0], kv[1]

		switch key {
		case "group_id":
			id, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("ofp13: bad group_id %q: %w", value, err)
			}
			if uint32(id) != groupID {
				return nil, fmt.Errorf("ofp13: group spec group_id %d does not match entry id %d", id, groupID)
			}
		case "type":
			t, err := parseGroupType(value)
			if err != nil {
				return nil, err
			}
			gm.Type = t
		case "bucket":
			b, err := parseBucket(value)
			if err != nil {
				return nil, err
			}
			gm.Buckets = append(gm.Buckets, b)
		default:
			return nil, fmt.Errorf("ofp13: unknown group spec key %q", key)
		}
	}

	return gm, nil
}

func parseGroupType(value string) (GroupType, error) {
	switch value {
	case "all":
		return GroupTypeAll, nil
	case "select":
		return GroupTypeSelect, nil
	case "indirect":
		return GroupTypeIndirect, nil
	case "ff", "fast_failover":
		return GroupTypeFastFail, nil
	default:
		return 0, fmt.Errorf("ofp13: unknown group type %q", value)
	}
}

// parseBucket parses one bucket token, e.g. "output:3" or
// "weight:10|output:3". Sub-fields are '|'-separated rather than
// ','-separated since ',' already separates top-level group spec tokens
// (group_id=.., type=.., bucket=..).
func parseBucket(value string) (Bucket, error) {
	var b Bucket
	ab := NewActionBuilder()

	fields := strings.Split(value, "|")
	for _, f := range fields {
		kv := strings.SplitN(f, ":", 2)
		if len(kv) != 2 {
			return b, fmt.Errorf("ofp13: malformed bucket token %q", f)
		}
		switch kv[0] {
		case "weight":
			w, err := strconv.ParseUint(kv[1], 10, 16)
			if err != nil {
				return b, fmt.Errorf("ofp13: bad bucket weight %q: %w", kv[1], err)
			}
			b.Weight = uint16(w)
		case "output":
			port, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return b, fmt.Errorf("ofp13: bad bucket output port %q: %w", kv[1], err)
			}
			ab.Output(uint32(port))
		default:
			return b, fmt.Errorf("ofp13: unknown bucket key %q", kv[0])
		}
	}

	b.Actions = ab.Build()
	return b, nil
}
