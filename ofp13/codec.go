package ofp13

import (
	"encoding/binary"
	"fmt"
)

// Message is anything ofconn.Send can put on the wire: it encodes itself
// as one complete, length-framed OpenFlow message.
type Message interface {
	MarshalBinary() ([]byte, error)
}

// RawMessage carries message types this module does not need to decode
// beyond the header: packet-in, port-status, flow-removed and anything
// else the negotiator's common receive handler just acknowledges or
// ignores (spec.md §4.2).
type RawMessage struct {
	Header Header
	Body   []byte
}

// Decode parses exactly one complete OpenFlow frame from b (b must be
// Header.Length bytes) and returns the header plus a decoded payload.
// The payload's concrete type is one of: *Error, *BarrierReply, *Echo,
// *TlvTableReply, or RawMessage for anything this module passes through
// unexamined.
func Decode(b []byte) (Header, interface{}, error) {
	var h Header
	if err := h.UnmarshalBinary(b); err != nil {
		return h, nil, err
	}
	if int(h.Length) > len(b) {
		return h, nil, fmt.Errorf("ofp13: frame shorter than header length: have %d want %d", len(b), h.Length)
	}
	body := b[HeaderLen:h.Length]

	switch h.Type {
	case TypeError:
		msg, err := decodeError(h, body)
		return h, msg, err
	case TypeBarrierReply:
		return h, &BarrierReply{Xid: h.Xid}, nil
	case TypeEchoRequest, TypeEchoReply:
		return h, &Echo{Xid: h.Xid, Type: h.Type, Data: body}, nil
	case TypeMultipartReply:
		msg, err := decodeMultipartReply(h, body)
		return h, msg, err
	default:
		return h, RawMessage{Header: h, Body: body}, nil
	}
}

func decodeError(h Header, body []byte) (interface{}, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("ofp13: short error body")
	}
	e := &Error{
		Xid:  h.Xid,
		Type: binary.BigEndian.Uint16(body[0:2]),
		Code: binary.BigEndian.Uint16(body[2:4]),
	}
	if len(body) > 4 {
		e.Data = body[4:]
	}
	return e, nil
}

func decodeMultipartReply(h Header, body []byte) (interface{}, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("ofp13: short multipart reply body")
	}
	mpType := binary.BigEndian.Uint16(body[0:2])
	payload := body[8:]

	switch mpType {
	case MultipartTypeTlvTable:
		return DecodeTlvTableReply(h.Xid, payload)
	default:
		return RawMessage{Header: h, Body: body}, nil
	}
}

// FrameLength peeks the declared length of a frame from its first
// HeaderLen bytes, so the transport's reader knows how many more bytes to
// buffer before calling Decode.
func FrameLength(header []byte) (uint16, error) {
	if len(header) < HeaderLen {
		return 0, fmt.Errorf("ofp13: need %d bytes to read frame length, have %d", HeaderLen, len(header))
	}
	return binary.BigEndian.Uint16(header[2:4]), nil
}
