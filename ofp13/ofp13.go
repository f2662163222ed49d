// Package ofp13 implements the wire-format types of the OpenFlow 1.3
// control protocol that this agent needs: message framing, the OXM match
// encoding, flow/group modification messages, the TLV-table extension used
// to negotiate a Geneve tunnel-metadata slot, and barrier/echo/error
// handling.
//
// The package only encodes and decodes what the control loop in ofconn,
// tlv and reconcile actually sends and receives. It is not a general
// purpose OpenFlow library.
package ofp13

import (
	"encoding/binary"
	"fmt"
)

// Version is the wire version byte for OpenFlow 1.3.
const Version uint8 = 0x04

// Message types used by this module. Values match the OpenFlow 1.3 spec.
const (
	TypeHello          uint8 = 0
	TypeError          uint8 = 1
	TypeEchoRequest     uint8 = 2
	TypeEchoReply       uint8 = 3
	TypeFeaturesRequest uint8 = 5
	TypeFeaturesReply   uint8 = 6
	TypePacketIn        uint8 = 10
	TypeFlowRemoved     uint8 = 11
	TypePortStatus      uint8 = 12
	TypeFlowMod         uint8 = 14
	TypeGroupMod        uint8 = 15
	TypePacketOut       uint8 = 13
	TypeBarrierRequest  uint8 = 20
	TypeBarrierReply    uint8 = 21
	TypeMultipartRequest uint8 = 18
	TypeMultipartReply   uint8 = 19
	TypeTlvTableMod     uint8 = 25
)

// Multipart types used for the TLV table extension. These follow the same
// numbering ONF assigns to NXST_TLV_TABLE in Open vSwitch.
const (
	MultipartTypeTlvTable uint16 = 0xffff
)

// Header is the 8-byte OpenFlow message header present on every message.
type Header struct {
	Version uint8
	Type    uint8
	Length  uint16
	Xid     uint32
}

// HeaderLen is the encoded size of Header.
const HeaderLen = 8

// MarshalBinary encodes h.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderLen)
	b[0] = h.Version
	b[1] = h.Type
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint32(b[4:8], h.Xid)
	return b, nil
}

// UnmarshalBinary decodes h from b.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderLen {
		return fmt.Errorf("ofp13: short header: %d bytes", len(b))
	}
	h.Version = b[0]
	h.Type = b[1]
	h.Length = binary.BigEndian.Uint16(b[2:4])
	h.Xid = binary.BigEndian.Uint32(b[4:8])
	return nil
}

// Error is a decoded OFPT_ERROR message.
type Error struct {
	Xid    uint32
	Type   uint16
	Code   uint16
	Data   []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("ofp13: error type=%d code=%d xid=%d", e.Type, e.Code, e.Xid)
}

// MarshalBinary encodes e as a framed OFPT_ERROR message. Only a switch
// (or a test standing in for one) ever needs this direction.
func (e *Error) MarshalBinary() ([]byte, error) {
	body := make([]byte, 4+len(e.Data))
	binary.BigEndian.PutUint16(body[0:2], e.Type)
	binary.BigEndian.PutUint16(body[2:4], e.Code)
	copy(body[4:], e.Data)

	total := HeaderLen + len(body)
	h := Header{Version: Version, Type: TypeError, Length: uint16(total), Xid: e.Xid}
	hb, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(hb, body...), nil
}

// Error types and codes relevant to TLV-table negotiation. These mirror
// the OFPET_TLV_TABLE_MOD_FAILED family Open vSwitch defines for its NXT
// TLV table extension.
const (
	ErrorTypeTlvTableMod uint16 = 0xfff1

	// TlvTableModCodeDupEntry indicates the requested (class, type, len)
	// triple is already present in the table under a different index.
	TlvTableModCodeDupEntry uint16 = 1
	// TlvTableModCodeAlreadyMapped indicates the requested index is
	// already mapped to a different option, raced by another controller.
	TlvTableModCodeAlreadyMapped uint16 = 2
)

// IsRacedMapping reports whether e represents a TLV table mod failure
// caused by racing another controller for the same slot.
func (e *Error) IsRacedMapping() bool {
	return e.Type == ErrorTypeTlvTableMod &&
		(e.Code == TlvTableModCodeDupEntry || e.Code == TlvTableModCodeAlreadyMapped)
}
