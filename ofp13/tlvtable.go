package ofp13

import "encoding/binary"

// TlvTableMod is an NXT_TLV_TABLE_MOD message: the vendor extension this
// agent uses to reserve a Geneve tunnel-metadata option slot.
type TlvTableMod struct {
	Xid     uint32
	Command TlvTableModCommand
	Mappings []TlvMap
}

// TlvTableModCommand selects whether mappings are added or cleared.
type TlvTableModCommand uint8

// TlvTableModCommand values.
const (
	TlvTableModAdd   TlvTableModCommand = 0
	TlvTableModClear TlvTableModCommand = 1
)

// TlvMap is one (option_class, option_type, option_len) -> field index
// mapping, as carried in both TlvTableMod requests and TlvTableReply
// responses.
type TlvMap struct {
	OptClass uint16
	OptType  uint8
	OptLen   uint8
	Index    uint16
}

// MarshalBinary encodes t as a framed NXT_TLV_TABLE_MOD message.
func (t *TlvTableMod) MarshalBinary() ([]byte, error) {
	body := make([]byte, 8)
	body[4] = uint8(t.Command)

	var maps []byte
	for _, m := range t.Mappings {
		mb := make([]byte, 8)
		binary.BigEndian.PutUint16(mb[0:2], m.OptClass)
		mb[2] = m.OptType
		mb[3] = m.OptLen
		binary.BigEndian.PutUint16(mb[4:6], m.Index)
		maps = append(maps, mb...)
	}

	total := HeaderLen + len(body) + len(maps)
	h := Header{Version: Version, Type: TypeTlvTableMod, Length: uint16(total), Xid: t.Xid}
	hb, _ := h.MarshalBinary()

	out := make([]byte, 0, total)
	out = append(out, hb...)
	out = append(out, body...)
	out = append(out, maps...)
	return out, nil
}

// TlvTableRequest requests the switch's current TLV table mapping. It is
// carried as an OFPMP_REQUEST multipart of type MultipartTypeTlvTable with
// an empty body.
type TlvTableRequest struct {
	Xid uint32
}

// MarshalBinary encodes r as a framed OFPT_MULTIPART_REQUEST message.
func (r *TlvTableRequest) MarshalBinary() ([]byte, error) {
	body := make([]byte, 8)
	binary.BigEndian.PutUint16(body[0:2], MultipartTypeTlvTable)

	total := HeaderLen + len(body)
	h := Header{Version: Version, Type: TypeMultipartRequest, Length: uint16(total), Xid: r.Xid}
	hb, _ := h.MarshalBinary()

	out := make([]byte, 0, total)
	out = append(out, hb...)
	out = append(out, body...)
	return out, nil
}

// TlvTableReply is the decoded body of an OFPMP_REPLY carrying the
// switch's current TLV table: its maximum option space, its maximum
// number of distinct fields, and the mappings currently allocated.
type TlvTableReply struct {
	Xid       uint32
	MaxSpace  uint32
	MaxFields uint8
	Mappings  []TlvMap
}

// DecodeTlvTableReply decodes the multipart body of a TLV table reply.
func DecodeTlvTableReply(xid uint32, body []byte) (*TlvTableReply, error) {
	if len(body) < 8 {
		return nil, errShortOXM
	}
	r := &TlvTableReply{Xid: xid}
	r.MaxSpace = binary.BigEndian.Uint32(body[0:4])
	r.MaxFields = body[4]
	body = body[8:]

	for len(body) >= 8 {
		r.Mappings = append(r.Mappings, TlvMap{
			OptClass: binary.BigEndian.Uint16(body[0:2]),
			OptType:  body[2],
			OptLen:   body[3],
			Index:    binary.BigEndian.Uint16(body[4:6]),
		})
		body = body[8:]
	}
	return r, nil
}

// IndexUsed reports whether any mapping in r already occupies index.
func (r *TlvTableReply) IndexUsed(index uint16) bool {
	for _, m := range r.Mappings {
		if m.Index == index {
			return true
		}
	}
	return false
}

// Find returns the mapping matching (class, typ, length), if any.
func (r *TlvTableReply) Find(class uint16, typ, length uint8) (TlvMap, bool) {
	for _, m := range r.Mappings {
		if m.OptClass == class && m.OptType == typ && m.OptLen == length {
			return m, true
		}
	}
	return TlvMap{}, false
}
