// Package ofcore is the top-level facade spec.md §6 names: it wires the
// reconnecting transport (ofconn), the Geneve TLV negotiator (tlv), the
// desired flow and group stores (flowtable, grouptable) and the
// reconciler (reconcile) into the four calls an embedding agent's event
// loop drives: Init, Run, Put, Destroy.
package ofcore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cabmario/ofcore/flowtable"
	"github.com/cabmario/ofcore/grouptable"
	"github.com/cabmario/ofcore/netprobe"
	"github.com/cabmario/ofcore/ofconn"
	"github.com/cabmario/ofcore/ofp13"
	"github.com/cabmario/ofcore/reconcile"
	"github.com/cabmario/ofcore/tlv"
)

// Config populates a Core. It carries no flag or environment parsing of
// its own (out of scope per spec.md §1) — the embedding agent is
// responsible for sourcing these values however it likes.
type Config struct {
	// Target is the ofconn dial target, e.g. "unix:/var/run/openvswitch/br0.mgmt".
	Target string

	// Triple is the fixed Geneve (option_class, option_type, option_len)
	// this agent negotiates a tunnel-metadata slot for.
	Triple tlv.Triple

	// ProbeDatapath, when true, makes Init fail fast with a clear error
	// if no ovs_* generic netlink family is present on the host, before
	// ever dialing Target (spec.md §4's domain-stack addition).
	ProbeDatapath bool

	// Log receives structured logs from every wired component. A nil
	// Log disables logging.
	Log *zap.SugaredLogger
}

// Validate checks Config for the minimum the facade needs to start. No
// pack example carries a validator library scoped this small, so this is
// a short hand-written check rather than reaching for one.
func (c Config) Validate() error {
	if c.Target == "" {
		return errors.New("ofcore: Config.Target is required")
	}
	if _, _, err := ofconn.ParseTarget(c.Target); err != nil {
		return errors.Wrap(err, "ofcore: Config.Target")
	}
	if c.Triple.Class == 0 && c.Triple.Type == 0 && c.Triple.Len == 0 {
		return errors.New("ofcore: Config.Triple must be set")
	}
	return nil
}

// Core is the single-threaded facade over C1–C5. Run and Put are its
// only mutators and are meant to be called from one goroutine, the
// embedding agent's event loop (spec.md §5); the sole exception is
// ofconn's own background reader, which never touches flowtable or
// grouptable state directly.
type Core struct {
	cfg  Config
	log  *zap.SugaredLogger
	conn *ofconn.Conn
	neg  *tlv.Negotiator

	desired *flowtable.Store
	groups  *grouptable.Store
	recon   *reconcile.Reconciler
}

// New validates cfg and wires a Core, but does not dial anything yet;
// call Init for that.
func New(cfg Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	conn := ofconn.New(log)
	desired := flowtable.NewStore(log)
	groups := grouptable.NewStore()
	recon := reconcile.New(conn, log)
	neg := tlv.New(conn, recon.Installed(), groups, cfg.Triple, log)

	return &Core{
		cfg:     cfg,
		log:     log,
		conn:    conn,
		neg:     neg,
		desired: desired,
		groups:  groups,
		recon:   recon,
	}, nil
}

// Init probes the local datapath if configured to, then starts the
// reconnecting transport toward Config.Target. It returns immediately;
// the transport connects in the background.
func (c *Core) Init() error {
	if c.cfg.ProbeDatapath {
		if err := netprobe.RequireDatapath(); err != nil {
			return errors.Wrap(err, "ofcore: no Open vSwitch datapath present")
		}
	}
	return c.conn.Connect(c.cfg.Target)
}

// Destroy tears down the transport and its reconnect supervisor. A Core
// is not reusable after Destroy; build a new one via New.
func (c *Core) Destroy() {
	c.conn.Disconnect()
}

// Wait blocks until the transport reports a live connection, the
// readiness signal spec.md §6's wait() names, or until ctx is done.
func (c *Core) Wait(ctx context.Context) error {
	if c.conn.IsConnected() {
		return nil
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.conn.IsConnected() {
				return nil
			}
		}
	}
}

// Run advances the negotiator one tick and returns the currently
// negotiated tunnel-metadata field id (zero while absent). identity
// names the bridge or switch this cycle is running against, logged for
// diagnostics only — the negotiator itself is bridge-agnostic.
func (c *Core) Run(identity string) uint32 {
	if identity != "" {
		c.log.Debugw("running negotiator cycle", "identity", identity, "state", c.neg.State())
	}
	return c.neg.Run()
}

// Put runs one reconciliation pass. Eligibility (spec.md §4.5: the
// negotiator must be in UPDATE_FLOWS and the transport must have zero
// outstanding messages) is computed here, the one place that legitimately
// knows both tlv and ofconn state, and handed to the reconciler as a
// plain bool so tlv and reconcile never need to import each other.
func (c *Core) Put() {
	ready := c.neg.State() == tlv.StateUpdateFlows && c.conn.Outstanding() == 0
	c.recon.Put(ready, c.desired, c.groups)
}

// AddFlow delegates to the desired flow store (spec.md §6 producer API).
func (c *Core) AddFlow(tableID uint8, priority uint16, match ofp13.Match, actions ofp13.Actions, uuid flowtable.UUID) {
	c.desired.AddFlow(tableID, priority, match, actions, uuid)
}

// RemoveFlows delegates to the desired flow store (spec.md §6 producer API).
func (c *Core) RemoveFlows(uuid flowtable.UUID) {
	c.desired.RemoveFlows(uuid)
}

// SetFlow delegates to the desired flow store (spec.md §6 producer API).
func (c *Core) SetFlow(tableID uint8, priority uint16, match ofp13.Match, actions ofp13.Actions, uuid flowtable.UUID) {
	c.desired.SetFlow(tableID, priority, match, actions, uuid)
}

// AddGroup registers a desired group spec under groupID (spec.md §6
// producer API, group side); groupID is normally allocated via
// c.Groups().NextFree() first.
func (c *Core) AddGroup(groupID uint32, spec string) {
	c.groups.InsertDesired(groupID, spec)
}

// Groups exposes the shared group store so a producer can allocate a
// fresh group id before calling AddGroup.
func (c *Core) Groups() *grouptable.Store {
	return c.groups
}

// Conn exposes the underlying transport, mainly so tests can override
// its dialer via ofconn.Conn.WithDialFunc before calling Init.
func (c *Core) Conn() *ofconn.Conn {
	return c.conn
}
