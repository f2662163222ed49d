package ofp13

// EchoReply builds the reply to an inbound OFPT_ECHO_REQUEST, copying its
// xid and data payload as the spec requires.
func EchoReply(xid uint32, data []byte) *Echo {
	return &Echo{Xid: xid, Type: TypeEchoReply, Data: data}
}

// Echo represents either direction of the echo request/reply exchange.
type Echo struct {
	Xid  uint32
	Type uint8
	Data []byte
}

// MarshalBinary encodes e as a framed echo message.
func (e *Echo) MarshalBinary() ([]byte, error) {
	total := HeaderLen + len(e.Data)
	h := Header{Version: Version, Type: e.Type, Length: uint16(total), Xid: e.Xid}
	hb, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(hb, e.Data...), nil
}
