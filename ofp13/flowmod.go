package ofp13

import "encoding/binary"

// FlowModCommand is the OFPFC_* command code of a FlowMod.
type FlowModCommand uint8

// FlowModCommand values used by the reconciler (spec.md §4.5).
const (
	FlowModAdd           FlowModCommand = 0
	FlowModModifyStrict  FlowModCommand = 2
	FlowModDeleteStrict  FlowModCommand = 4
	// FlowModDeleteAll is not a distinct wire command: a plain
	// FlowModDelete with wildcard table/priority/match deletes everything
	// it matches, used by the negotiator's catch-all clear (spec.md §4.2
	// CLEAR_FLOWS entry action).
	FlowModDelete FlowModCommand = 3
)

// TableAll selects every flow table in a catch-all delete.
const TableAll uint8 = 0xff

// FlowMod is an OFPT_FLOW_MOD message.
type FlowMod struct {
	Xid         uint32
	Command     FlowModCommand
	TableID     uint8
	Priority    uint16
	Cookie      uint64
	CookieMask  uint64
	BufferID    uint32
	OutPort     uint32
	OutGroup    uint32
	Match       Match
	Actions     Actions
}

// NewCatchAllDelete builds the "delete all flows in all tables" FlowMod
// the negotiator sends on entry to CLEAR_FLOWS (spec.md §4.2).
func NewCatchAllDelete(xid uint32) *FlowMod {
	return &FlowMod{
		Xid:      xid,
		Command:  FlowModDelete,
		TableID:  TableAll,
		BufferID: 0xffffffff,
		OutPort:  PortAny,
		OutGroup: GroupAny,
	}
}

// MarshalBinary encodes f as a complete, framed OFPT_FLOW_MOD message.
func (f *FlowMod) MarshalBinary() ([]byte, error) {
	oxm := f.Match.MarshalOXM()
	// OFPMatch header: type(2) length(2) then OXM TLVs, padded to 8 bytes.
	matchHeader := make([]byte, 4)
	binary.BigEndian.PutUint16(matchHeader[0:2], 1) // OFPMT_OXM
	binary.BigEndian.PutUint16(matchHeader[2:4], uint16(4+len(oxm)))
	match := append(matchHeader, oxm...)
	for len(match)%8 != 0 {
		match = append(match, 0)
	}

	body := make([]byte, 40)
	binary.BigEndian.PutUint64(body[0:8], f.Cookie)
	binary.BigEndian.PutUint64(body[8:16], f.CookieMask)
	body[16] = f.TableID
	body[17] = uint8(f.Command)
	// idle_timeout, hard_timeout left zero (flows never expire on their own).
	binary.BigEndian.PutUint16(body[22:24], f.Priority)
	binary.BigEndian.PutUint32(body[24:28], f.BufferID)
	binary.BigEndian.PutUint32(body[28:32], f.OutPort)
	binary.BigEndian.PutUint32(body[32:36], f.OutGroup)
	// flags (2 bytes) and pad (2 bytes) left zero; body[36:40] already zero.

	total := HeaderLen + len(body) + len(match) + len(f.Actions)
	h := Header{Version: Version, Type: TypeFlowMod, Length: uint16(total), Xid: f.Xid}
	hb, _ := h.MarshalBinary()

	out := make([]byte, 0, total)
	out = append(out, hb...)
	out = append(out, body...)
	out = append(out, match...)
	out = append(out, f.Actions...)

	return wrapInstructions(out, HeaderLen+len(body)+len(match)), nil
}

// wrapInstructions re-frames the trailing raw action bytes appended by
// MarshalBinary as a single OFPIT_APPLY_ACTIONS instruction, which is what
// OpenFlow 1.3 FlowMods actually carry instead of a bare action list.
func wrapInstructions(msg []byte, actionsOffset int) []byte {
	actions := msg[actionsOffset:]
	instrLen := pad4(8 + len(actions))
	instr := make([]byte, 8, instrLen)
	binary.BigEndian.PutUint16(instr[0:2], 4) // OFPIT_APPLY_ACTIONS
	binary.BigEndian.PutUint16(instr[2:4], uint16(8+len(actions)))
	instr = append(instr, actions...)
	for len(instr) < instrLen {
		instr = append(instr, 0)
	}

	out := make([]byte, actionsOffset, actionsOffset+len(instr))
	copy(out, msg[:actionsOffset])
	out = append(out, instr...)

	binary.BigEndian.PutUint16(out[2:4], uint16(len(out)))
	return out
}
