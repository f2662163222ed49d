// Package tlv implements C2, the Geneve tunnel-metadata option negotiator
// of spec.md §4.2: a five-state machine that secures a TLV table slot for
// the fixed (option_class, option_type, option_len) triple this system
// recognizes, then hands off to steady-state flow reconciliation.
package tlv

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cabmario/ofcore/ofconn"
	"github.com/cabmario/ofcore/ofp13"
)

// MaxSlots is the legal tunnel-metadata slot index range [0, MaxSlots),
// per spec.md §4.2/§6.
const MaxSlots uint16 = 64

// State names the five states of the negotiator's machine.
type State int

// State values, in the order spec.md §4.2 defines them.
const (
	StateNew State = iota
	StateTlvTableRequested
	StateTlvTableModSent
	StateClearFlows
	StateUpdateFlows
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateTlvTableRequested:
		return "TLV_TABLE_REQUESTED"
	case StateTlvTableModSent:
		return "TLV_TABLE_MOD_SENT"
	case StateClearFlows:
		return "CLEAR_FLOWS"
	case StateUpdateFlows:
		return "UPDATE_FLOWS"
	default:
		return "UNKNOWN"
	}
}

// FlowClearer is the subset of the reconciler's installed-flow store the
// negotiator needs: wiping it when the switch is assumed to have dropped
// its table (spec.md §4.2, CLEAR_FLOWS entry action).
type FlowClearer interface {
	ClearInstalled()
}

// GroupClearer is the subset of the group store the negotiator needs: the
// existing-group set is assumed empty immediately after CLEAR_FLOWS.
type GroupClearer interface {
	ClearExisting()
}

// Triple identifies the Geneve option this system negotiates a TLV table
// slot for.
type Triple struct {
	Class uint16
	Type  uint8
	Len   uint8
}

// Negotiator drives C2 over a single ofconn.Conn.
type Negotiator struct {
	conn     *ofconn.Conn
	flows    FlowClearer
	groups   GroupClearer
	triple   Triple
	log      *zap.SugaredLogger

	state        State
	pendingEntry bool

	xid            uint32
	xid2           uint32
	hasXid2        bool
	requestedIndex uint16

	fieldID uint32

	lastGeneration uint64
	xidCounter     uint32
}

// New returns a Negotiator in its initial NEW state, ready to run its
// entry action on the first call to Run.
func New(conn *ofconn.Conn, flows FlowClearer, groups GroupClearer, triple Triple, log *zap.SugaredLogger) *Negotiator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Negotiator{
		conn:         conn,
		flows:        flows,
		groups:       groups,
		triple:       triple,
		log:          log,
		state:        StateNew,
		pendingEntry: true,
	}
}

// State returns the negotiator's current state.
func (n *Negotiator) State() State {
	return n.state
}

// FieldID returns the negotiated tunnel-metadata OXM field id, or 0 if
// Geneve support is currently disabled.
func (n *Negotiator) FieldID() uint32 {
	return n.fieldID
}

func (n *Negotiator) newXid() uint32 {
	return atomic.AddUint32(&n.xidCounter, 1)
}

// Run advances the negotiator: it first resets to NEW on any new
// connection generation, then runs entry actions to a fixpoint, then
// drains up to 50 inbound messages (or fewer if the state changes along
// the way), and returns the current field id (spec.md §4.2).
func (n *Negotiator) Run() uint32 {
	if gen := n.conn.Generation(); gen != n.lastGeneration {
		n.lastGeneration = gen
		n.resetToNew()
	}

	n.runEntryFixpoint()

	const maxDrain = 50
	for i := 0; i < maxDrain; i++ {
		msg, ok := n.conn.Recv()
		if !ok {
			break
		}
		before := n.state
		n.handleInbound(msg)
		if n.state != before {
			break
		}
	}

	return n.currentFieldID()
}

// currentFieldID reports the field id only once the switch is believed to
// be in a known (possibly empty) state, per spec.md §4.2.
func (n *Negotiator) currentFieldID() uint32 {
	if n.state == StateClearFlows || n.state == StateUpdateFlows {
		return n.fieldID
	}
	return 0
}

// resetToNew forces the state machine back to NEW and discards any
// in-flight transactions, per spec.md §4.2 ("Entry on fresh connection")
// and §5 ("Cancellation & timeouts").
func (n *Negotiator) resetToNew() {
	n.state = StateNew
	n.pendingEntry = true
	n.xid, n.xid2 = 0, 0
	n.hasXid2 = false
	n.fieldID = 0
}

// transition moves to s and marks its entry action (if any) pending.
func (n *Negotiator) transition(s State) {
	n.state = s
	n.pendingEntry = true
}

// runEntryFixpoint runs entry actions for states that declare one (NEW,
// CLEAR_FLOWS) repeatedly while they keep chaining into a new state,
// stopping once a state with no entry action (or none pending) is
// reached.
func (n *Negotiator) runEntryFixpoint() {
	for n.pendingEntry {
		n.pendingEntry = false
		before := n.state
		switch n.state {
		case StateNew:
			n.enterNew()
		case StateClearFlows:
			n.enterClearFlows()
		}
		if n.state == before {
			// No transition: an entry action that left itself pending
			// (enterNew after a failed send) retries on the next Run.
			return
		}
	}
}

// enterNew sends the initial TLV table query (spec.md §4.2).
func (n *Negotiator) enterNew() {
	xid := n.newXid()
	if err := n.conn.Send(&ofp13.TlvTableRequest{Xid: xid}); err != nil {
		n.log.Warnw("tlv: failed to send TLV table request, will retry next tick", "error", err)
		n.pendingEntry = true // stay in NEW and retry on the next tick
		return
	}
	n.xid = xid
	n.transition(StateTlvTableRequested)
}

// enterClearFlows issues the catch-all deletes and resets local shadow
// state to reflect the switch now being empty (spec.md §4.2).
func (n *Negotiator) enterClearFlows() {
	_ = n.conn.Send(ofp13.NewCatchAllDelete(n.newXid()))
	_ = n.conn.Send(ofp13.NewCatchAllGroupDelete(n.newXid()))
	n.flows.ClearInstalled()
	n.groups.ClearExisting()
	n.transition(StateUpdateFlows)
}

// handleInbound dispatches one received message according to xid
// discipline (spec.md §4.2): a reply matching neither in-flight xid goes
// to the common receive handler regardless of state.
func (n *Negotiator) handleInbound(msg ofconn.Inbound) {
	matchesXid := msg.Header.Xid == n.xid
	matchesXid2 := n.hasXid2 && msg.Header.Xid == n.xid2

	switch n.state {
	case StateTlvTableRequested:
		if matchesXid {
			n.handleTlvTableReply(msg)
			return
		}
	case StateTlvTableModSent:
		if matchesXid {
			n.handleModReply(msg)
			return
		}
		if matchesXid2 {
			n.handleBarrierReply(msg)
			return
		}
	}

	n.commonReceive(msg)
}

func (n *Negotiator) handleTlvTableReply(msg ofconn.Inbound) {
	switch m := msg.Message.(type) {
	case *ofp13.TlvTableReply:
		if mapping, ok := m.Find(n.triple.Class, n.triple.Type, n.triple.Len); ok && mapping.Index < MaxSlots {
			n.fieldID = uint32(ofp13.BaseTunMetadata) + uint32(mapping.Index)
			n.transition(StateClearFlows)
			return
		}

		freeIndex, found := findFreeSlot(m)
		if !found {
			n.log.Infow("no free tunnel-metadata slot available, disabling geneve support")
			n.fieldID = 0
			n.transition(StateClearFlows)
			return
		}

		modXid := n.newXid()
		barrierXid := n.newXid()
		mod := &ofp13.TlvTableMod{
			Xid:     modXid,
			Command: ofp13.TlvTableModAdd,
			Mappings: []ofp13.TlvMap{
				{OptClass: n.triple.Class, OptType: n.triple.Type, OptLen: n.triple.Len, Index: freeIndex},
			},
		}
		_ = n.conn.Send(mod)
		_ = n.conn.Send(&ofp13.BarrierRequest{Xid: barrierXid})

		n.xid = modXid
		n.xid2 = barrierXid
		n.hasXid2 = true
		n.requestedIndex = freeIndex
		n.transition(StateTlvTableModSent)

	case *ofp13.Error:
		n.log.Warnw("tlv table request failed", "type", m.Type, "code", m.Code)
		n.fieldID = 0
		n.transition(StateClearFlows)

	default:
		n.log.Warnw("malformed reply to TLV table request")
		n.fieldID = 0
		n.transition(StateClearFlows)
	}
}

func (n *Negotiator) handleModReply(msg ofconn.Inbound) {
	e, ok := msg.Message.(*ofp13.Error)
	if !ok {
		n.log.Warnw("unexpected reply to TLV table mod, disabling geneve support")
		n.fieldID = 0
		n.transition(StateClearFlows)
		return
	}

	if e.IsRacedMapping() {
		n.log.Infow("lost TLV slot race with another controller, retrying negotiation")
		n.transition(StateNew)
		return
	}

	n.log.Warnw("tlv table mod failed", "type", e.Type, "code", e.Code)
	n.fieldID = 0
	n.transition(StateClearFlows)
}

func (n *Negotiator) handleBarrierReply(msg ofconn.Inbound) {
	if _, ok := msg.Message.(*ofp13.BarrierReply); !ok {
		n.log.Warnw("unexpected reply awaiting TLV mod barrier, disabling geneve support")
		n.fieldID = 0
		n.transition(StateClearFlows)
		return
	}

	n.fieldID = uint32(ofp13.BaseTunMetadata) + uint32(n.requestedIndex)
	n.transition(StateClearFlows)
}

// commonReceive handles messages outside the negotiator's own in-flight
// transactions: echo, error logging, and silent acknowledgement of
// packet-in/port-status/flow-removed (spec.md §4.2, §4.1(d)).
func (n *Negotiator) commonReceive(msg ofconn.Inbound) {
	switch m := msg.Message.(type) {
	case *ofp13.Echo:
		if m.Type == ofp13.TypeEchoRequest {
			_ = n.conn.Send(ofp13.EchoReply(m.Xid, m.Data))
		}
	case *ofp13.Error:
		n.log.Warnw("openflow error on unrelated transaction", "xid", msg.Header.Xid, "type", m.Type, "code", m.Code)
	default:
		// packet-in, port-status, flow-removed, and replies to our own
		// flow_mod/group_mod: no synchronous action needed.
	}
}

// findFreeSlot returns the lowest unused index in [0, MaxSlots).
func findFreeSlot(reply *ofp13.TlvTableReply) (uint16, bool) {
	for i := uint16(0); i < MaxSlots; i++ {
		if !reply.IndexUsed(i) {
			return i, true
		}
	}
	return 0, false
}
