// Package ofconn implements C1, the reliable auto-reconnecting OpenFlow
// 1.3 control channel described in spec.md §4.1. It frames messages,
// reconnects transparently with exponential backoff on loss, and tracks
// an outstanding-message counter per connection generation so callers can
// throttle (spec.md §4.5 back-pressure).
package ofconn

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	retry "github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cabmario/ofcore/ofp13"
)

// sendBufferSize bounds how many outbound frames one connection
// generation will queue before Send blocks, matching spec.md §4.1(d)'s
// "queued in the transport's send buffer" behavior when the socket isn't
// writable.
const sendBufferSize = 256

// inboundBufferSize bounds how many decoded inbound frames wait for the
// caller to drain via Recv.
const inboundBufferSize = 256

// Inbound is one decoded frame handed back by Recv.
type Inbound struct {
	Header  ofp13.Header
	Message interface{}
}

// DialFunc dials the underlying transport; overridable in tests so the
// reconnect state machine can be exercised without real sockets.
type DialFunc func(network, address string) (net.Conn, error)

// Conn is a single reliable OpenFlow 1.3 control channel to one switch.
type Conn struct {
	target           string
	network, address string
	dial             DialFunc
	log              *zap.SugaredLogger
	decodeErrLimit   *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu     sync.RWMutex
	nc         net.Conn
	connected  bool
	generation uint64
	outbound   chan []byte

	inbound chan Inbound

	outstanding *haxmap.Map[uint64, *int64]
}

// New returns a Conn that has not yet dialed anything; call Connect to
// start the reconnect supervisor.
func New(log *zap.SugaredLogger) *Conn {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Conn{
		dial:           net.Dial,
		log:            log,
		decodeErrLimit: rate.NewLimiter(5, 2),
		inbound:        make(chan Inbound, inboundBufferSize),
		outstanding:    haxmap.New[uint64, *int64](),
	}
}

// WithDialFunc overrides the dialer; used by tests.
func (c *Conn) WithDialFunc(d DialFunc) *Conn {
	c.dial = d
	return c
}

// Connect starts (or restarts) the reconnect supervisor against target.
// It returns immediately; IsConnected and Generation report progress.
func (c *Conn) Connect(target string) error {
	network, address, err := ParseTarget(target)
	if err != nil {
		return err
	}

	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}

	c.target = target
	c.network = network
	c.address = address

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.supervise(ctx)
	return nil
}

// Disconnect tears down the connection and stops the reconnect
// supervisor.
func (c *Conn) Disconnect() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()

	c.connMu.Lock()
	if c.nc != nil {
		_ = c.nc.Close()
	}
	c.nc = nil
	c.connected = false
	c.connMu.Unlock()
}

// CurrentTarget returns the target string passed to Connect.
func (c *Conn) CurrentTarget() string {
	return c.target
}

// ProtocolVersion reports the OpenFlow wire version this package speaks.
func (c *Conn) ProtocolVersion() uint8 {
	return ofp13.Version
}

// IsConnected reports whether the channel currently has a live socket.
func (c *Conn) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Generation returns the monotonically increasing count of successful
// (re)connections. The TLV negotiator resets to its NEW state whenever
// this changes (spec.md §4.2).
func (c *Conn) Generation() uint64 {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.generation
}

// Outstanding returns the number of sent-but-not-yet-written messages for
// the current connection generation, the back-pressure signal spec.md
// §4.5 gates reconciliation on.
func (c *Conn) Outstanding() int64 {
	c.connMu.RLock()
	gen := c.generation
	c.connMu.RUnlock()
	return atomic.LoadInt64(c.counter(gen))
}

// Send frames msg and queues it for writing on the current connection
// generation. It is a no-op error if the channel is not currently
// connected; callers re-attempt on the next tick once negotiation
// restarts after a reconnect.
func (c *Conn) Send(msg ofp13.Message) error {
	b, err := msg.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "ofconn: marshal outbound message")
	}

	c.connMu.RLock()
	connected, ch, gen := c.connected, c.outbound, c.generation
	c.connMu.RUnlock()

	if !connected {
		return errors.New("ofconn: not connected")
	}

	atomic.AddInt64(c.counter(gen), 1)
	ch <- b
	return nil
}

// Recv returns the next decoded inbound frame, if any is buffered.
func (c *Conn) Recv() (Inbound, bool) {
	select {
	case m := <-c.inbound:
		return m, true
	default:
		return Inbound{}, false
	}
}

// RunOnce does nothing. In this package's goroutine-per-connection
// design, reads, writes and reconnects already happen off dedicated
// goroutines, so there is no epoll-style pump for the event loop to turn;
// a lost connection shows up through IsConnected and Generation instead.
func (c *Conn) RunOnce() {
	// Intentionally empty: supervise's goroutines own all I/O. Present to
	// satisfy the external interface spec.md §4.1 names.
}

// counter returns the outstanding-message counter for generation gen,
// creating it on first use. Keying by generation, rather than one global
// counter, means a burst of writes queued against a connection that then
// dies does not leak into the next generation's back-pressure accounting.
func (c *Conn) counter(gen uint64) *int64 {
	if v, ok := c.outstanding.Get(gen); ok {
		return v
	}
	v := new(int64)
	c.outstanding.Set(gen, v)
	return v
}

// supervise is the reconnect loop: dial with backoff, then block reading
// frames until the connection drops, then redial.
func (c *Conn) supervise(ctx context.Context) {
	defer c.wg.Done()

	for {
		nc, err := c.dialWithBackoff(ctx)
		if err != nil {
			// context canceled via Disconnect.
			return
		}

		gen, outboundCh := c.onConnected(nc)
		// Closing nc on cancellation unblocks readLoop's pending read, so
		// Disconnect (and a restarting Connect) can wait for this loop.
		stopClose := context.AfterFunc(ctx, func() { _ = nc.Close() })

		doneCh := make(chan struct{})
		var writerWG sync.WaitGroup
		writerWG.Add(1)
		go c.writeLoop(nc, outboundCh, gen, doneCh, &writerWG)

		readErr := c.readLoop(ctx, nc)
		stopClose()
		close(doneCh)
		writerWG.Wait()

		c.onDisconnected(nc)
		if readErr != nil && ctx.Err() == nil {
			c.log.Warnw("openflow connection lost, reconnecting", "target", c.target, "error", readErr)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// dialWithBackoff dials c.network/c.address, retrying with exponential
// backoff until it succeeds or ctx is canceled.
func (c *Conn) dialWithBackoff(ctx context.Context) (net.Conn, error) {
	var nc net.Conn
	err := retry.Do(
		func() error {
			conn, dialErr := c.dial(c.network, c.address)
			if dialErr != nil {
				return dialErr
			}
			nc = conn
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			c.log.Infow("openflow dial failed, retrying", "target", c.target, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return nc, nil
}

// onConnected installs nc as the live connection, bumps the generation
// counter, and returns the new generation and its outbound queue.
func (c *Conn) onConnected(nc net.Conn) (uint64, chan []byte) {
	ch := make(chan []byte, sendBufferSize)

	c.connMu.Lock()
	c.nc = nc
	c.connected = true
	c.generation++
	gen := c.generation
	c.outbound = ch
	c.connMu.Unlock()

	c.outstanding.Set(gen, new(int64))

	c.log.Infow("openflow connection established", "target", c.target, "generation", gen)
	return gen, ch
}

// onDisconnected marks the channel down if nc is still the active
// connection (a concurrent successful reconnect may have already replaced
// it, though supervise's single-threaded loop makes that impossible here;
// the check is defensive against future concurrent supervisors).
func (c *Conn) onDisconnected(nc net.Conn) {
	c.connMu.Lock()
	if c.nc == nc {
		c.connected = false
	}
	c.connMu.Unlock()
	_ = nc.Close()
}

// writeLoop drains ch onto nc until doneCh closes or a write fails.
func (c *Conn) writeLoop(nc net.Conn, ch chan []byte, gen uint64, doneCh <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-doneCh:
			return
		case b := <-ch:
			_, err := nc.Write(b)
			atomic.AddInt64(c.counter(gen), -1)
			if err != nil {
				c.log.Warnw("openflow write failed", "target", c.target, "error", err)
				return
			}
		}
	}
}

// readLoop decodes frames off nc and pushes them onto c.inbound until an
// error occurs or ctx is canceled.
func (c *Conn) readLoop(ctx context.Context, nc net.Conn) error {
	r := bufio.NewReader(nc)
	header := make([]byte, ofp13.HeaderLen)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if _, err := io.ReadFull(r, header); err != nil {
			return err
		}

		length, err := ofp13.FrameLength(header)
		if err != nil {
			return err
		}

		frame := make([]byte, length)
		copy(frame, header)
		if int(length) > ofp13.HeaderLen {
			if _, err := io.ReadFull(r, frame[ofp13.HeaderLen:]); err != nil {
				return err
			}
		}

		h, msg, decodeErr := ofp13.Decode(frame)
		if decodeErr != nil {
			if c.decodeErrLimit.Allow() {
				c.log.Warnw("dropping malformed openflow frame", "target", c.target, "error", decodeErr)
			}
			continue
		}

		select {
		case c.inbound <- Inbound{Header: h, Message: msg}:
		case <-ctx.Done():
			return nil
		}
	}
}
