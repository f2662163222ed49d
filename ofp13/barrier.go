package ofp13

// BarrierRequest is an OFPT_BARRIER_REQUEST message, used by the TLV
// negotiator to know when its TlvTableMod has been fully processed by the
// switch (spec.md §4.2, TLV_TABLE_MOD_SENT).
type BarrierRequest struct {
	Xid uint32
}

// MarshalBinary encodes b as a framed OFPT_BARRIER_REQUEST message.
func (b *BarrierRequest) MarshalBinary() ([]byte, error) {
	h := Header{Version: Version, Type: TypeBarrierRequest, Length: HeaderLen, Xid: b.Xid}
	return h.MarshalBinary()
}

// BarrierReply is the decoded OFPT_BARRIER_REPLY counterpart.
type BarrierReply struct {
	Xid uint32
}

// MarshalBinary encodes b as a framed OFPT_BARRIER_REPLY message. Only a
// switch (or a test standing in for one) ever needs this direction.
func (b *BarrierReply) MarshalBinary() ([]byte, error) {
	h := Header{Version: Version, Type: TypeBarrierReply, Length: HeaderLen, Xid: b.Xid}
	return h.MarshalBinary()
}
