package ofp13

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
)

// OXM match classes this module encodes. OFPXMC12_OPENFLOW_BASIC covers the
// standard header fields; ONFOXMC_EXPERIMENTER covers the tunnel-metadata
// fields negotiated through the TLV table (field ids BaseTunMetadata and
// up, see tlv.MaxSlots).
const (
	OXMClassOpenflowBasic uint16 = 0x8000
	OXMClassExperimenter  uint16 = 0xffff
)

// OXM field numbers within OXMClassOpenflowBasic, limited to what this
// module's match builders expose.
const (
	OXMFieldInPort    uint8 = 0
	OXMFieldEthDst    uint8 = 3
	OXMFieldEthSrc    uint8 = 4
	OXMFieldEthType   uint8 = 5
	OXMFieldVlanVID   uint8 = 6
	OXMFieldIPProto   uint8 = 10
	OXMFieldIPv4Src   uint8 = 11
	OXMFieldIPv4Dst   uint8 = 12
	OXMFieldTCPSrc    uint8 = 13
	OXMFieldTCPDst    uint8 = 14
)

// BaseTunMetadata is the OXM field id of tunnel-metadata slot 0, once a
// Geneve option slot has been negotiated. Slot N's field id is
// BaseTunMetadata+N, matching spec.md's BASE_TUN_METADATA constant.
const BaseTunMetadata uint8 = 64

// Field is one match predicate: an OXM class/field pair, the value bytes
// and, if HasMask, the mask bytes to compare the packet field against.
// Field is comparable by value (Equal) and hashable (via Match.Hash), never
// by pointer identity.
type Field struct {
	Class   uint16
	Field   uint8
	Value   []byte
	Mask    []byte
	HasMask bool
}

// Equal reports whether f and other encode the identical predicate.
func (f Field) Equal(other Field) bool {
	return f.Class == other.Class &&
		f.Field == other.Field &&
		f.HasMask == other.HasMask &&
		bytes.Equal(f.Value, other.Value) &&
		bytes.Equal(f.Mask, other.Mask)
}

// Match is an unordered set of Fields. Two Matches with the same fields in
// different construction order are the same match; Normalize sorts the
// set into a canonical order so Equal and the hash are order-independent.
type Match []Field

// Normalize returns a copy of m sorted into canonical (class, field) order.
// Equal, Hash and MarshalOXM call it themselves, so callers need not.
func (m Match) Normalize() Match {
	out := make(Match, len(m))
	copy(out, m)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// Equal reports whether m and other are the same predicate set, regardless
// of construction order.
func (m Match) Equal(other Match) bool {
	a, b := m.Normalize(), other.Normalize()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// hashBytes folds b into a uint64 using FNV-1a; used for the match-key
// hash so Matches with many fields still combine into a single word.
func hashBytes(seed uint64, b []byte) uint64 {
	const prime = 1099511628211
	h := seed
	for _, c := range b {
		h ^= uint64(c)
		h *= prime
	}
	return h
}

// Hash returns a stable hash of the normalized field set, combined by the
// caller with (table_id, priority) to form the flow store's match-key
// hash (spec.md §4.3).
func (m Match) Hash() uint64 {
	const offset = 14695981039346656037
	h := uint64(offset)
	for _, f := range m.Normalize() {
		h = hashBytes(h, []byte{byte(f.Class >> 8), byte(f.Class), f.Field})
		h = hashBytes(h, f.Value)
		if f.HasMask {
			h = hashBytes(h, f.Mask)
		}
	}
	return h
}

// Builder helpers mirroring the teacher's ovs package match constructors
// (DataLinkSource, NetworkSource, ...), but emitting binary OXM Fields
// instead of ovs-ofctl text.

// InPort matches the ingress port number.
func InPort(port uint32) Field {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, port)
	return Field{Class: OXMClassOpenflowBasic, Field: OXMFieldInPort, Value: v}
}

// DataLinkSource matches the Ethernet source address.
func DataLinkSource(mac net.HardwareAddr) Field {
	return Field{Class: OXMClassOpenflowBasic, Field: OXMFieldEthSrc, Value: append([]byte(nil), mac...)}
}

// DataLinkDestination matches the Ethernet destination address.
func DataLinkDestination(mac net.HardwareAddr) Field {
	return Field{Class: OXMClassOpenflowBasic, Field: OXMFieldEthDst, Value: append([]byte(nil), mac...)}
}

// DataLinkType matches the EtherType.
func DataLinkType(etherType uint16) Field {
	v := make([]byte, 2)
	binary.BigEndian.PutUint16(v, etherType)
	return Field{Class: OXMClassOpenflowBasic, Field: OXMFieldEthType, Value: v}
}

// VLANVID matches the 802.1Q VLAN identifier, with mask.
func VLANVID(vid, mask uint16) Field {
	v := make([]byte, 2)
	binary.BigEndian.PutUint16(v, vid)
	f := Field{Class: OXMClassOpenflowBasic, Field: OXMFieldVlanVID, Value: v}
	if mask != 0xffff {
		m := make([]byte, 2)
		binary.BigEndian.PutUint16(m, mask)
		f.Mask = m
		f.HasMask = true
	}
	return f
}

// NetworkProtocol matches the IP protocol number.
func NetworkProtocol(proto uint8) Field {
	return Field{Class: OXMClassOpenflowBasic, Field: OXMFieldIPProto, Value: []byte{proto}}
}

// NetworkSource matches an IPv4 source address/mask pair; mask of nil
// means an exact /32 match.
func NetworkSource(ip net.IP, mask net.IPMask) Field {
	return ipv4Field(OXMFieldIPv4Src, ip, mask)
}

// NetworkDestination matches an IPv4 destination address/mask pair.
func NetworkDestination(ip net.IP, mask net.IPMask) Field {
	return ipv4Field(OXMFieldIPv4Dst, ip, mask)
}

func ipv4Field(field uint8, ip net.IP, mask net.IPMask) Field {
	v4 := ip.To4()
	f := Field{Class: OXMClassOpenflowBasic, Field: field, Value: append([]byte(nil), v4...)}
	if mask != nil {
		f.Mask = append([]byte(nil), mask...)
		f.HasMask = true
	}
	return f
}

// TransportSourcePort matches the TCP/UDP source port.
func TransportSourcePort(port uint16) Field {
	v := make([]byte, 2)
	binary.BigEndian.PutUint16(v, port)
	return Field{Class: OXMClassOpenflowBasic, Field: OXMFieldTCPSrc, Value: v}
}

// TransportDestinationPort matches the TCP/UDP destination port.
func TransportDestinationPort(port uint16) Field {
	v := make([]byte, 2)
	binary.BigEndian.PutUint16(v, port)
	return Field{Class: OXMClassOpenflowBasic, Field: OXMFieldTCPDst, Value: v}
}

// TunnelMetadata matches a negotiated Geneve tunnel-metadata slot, fieldID
// being BaseTunMetadata+index as returned by tlv.Negotiator.Run.
func TunnelMetadata(fieldID uint8, value []byte) Field {
	return Field{Class: OXMClassExperimenter, Field: fieldID, Value: append([]byte(nil), value...)}
}

// MarshalOXM encodes m as a sequence of OXM TLVs (OFPMT_OXM match type),
// per the OpenFlow 1.3 OXM protocol variant required by spec.md §4.5.
func (m Match) MarshalOXM() []byte {
	var buf bytes.Buffer
	for _, f := range m.Normalize() {
		length := len(f.Value)
		hasMaskBit := uint8(0)
		if f.HasMask {
			hasMaskBit = 1
			length += len(f.Mask)
		}
		header := uint32(f.Class)<<16 | uint32(f.Field)<<9 | uint32(hasMaskBit)<<8 | uint32(length)
		var hb [4]byte
		binary.BigEndian.PutUint32(hb[:], header)
		buf.Write(hb[:])
		buf.Write(f.Value)
		if f.HasMask {
			buf.Write(f.Mask)
		}
	}
	return buf.Bytes()
}

var errShortOXM = fmt.Errorf("ofp13: short OXM TLV")

// UnmarshalOXM decodes a sequence of OXM TLVs into a Match.
func UnmarshalOXM(b []byte) (Match, error) {
	var m Match
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, errShortOXM
		}
		header := binary.BigEndian.Uint32(b[:4])
		class := uint16(header >> 16)
		field := uint8((header >> 9) & 0x7f)
		hasMask := (header>>8)&0x1 == 1
		length := int(header & 0xff)
		b = b[4:]
		if len(b) < length {
			return nil, errShortOXM
		}
		payload := b[:length]
		b = b[length:]

		f := Field{Class: class, Field: field}
		if hasMask {
			half := length / 2
			f.Value = append([]byte(nil), payload[:half]...)
			f.Mask = append([]byte(nil), payload[half:]...)
			f.HasMask = true
		} else {
			f.Value = append([]byte(nil), payload...)
		}
		m = append(m, f)
	}
	return m, nil
}
