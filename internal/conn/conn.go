// Package conn implements the initiating side of the session protocol: a
// single-peer connection with stop-and-wait reliable delivery over an
// unreliable datagram Transport.
//
// Two goroutines share a Conn. The application calls Connect, Send, Recv and
// Close; the packet pump started by Start reads datagrams, dispatches them
// and runs the liveness timer. All session state is guarded by one mutex;
// the outgoing buffer additionally belongs to whoever holds the send lock,
// so at most one DATA or SYN frame is ever awaiting acknowledgement.
package conn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/1ureka/udpsess/internal/protocol"
	"github.com/1ureka/udpsess/internal/transport"
	"github.com/1ureka/udpsess/internal/util"
)

// slotState is the single-item mailbox holding a received payload.
type slotState uint8

const (
	slotEmpty     slotState = iota
	slotFilled              // payload present, not yet handed to the application
	slotDelivered           // handed out by RecvBuffer, awaiting Release
)

// Conn is one reusable session endpoint. The zero value is not usable;
// create it with New.
type Conn struct {
	tr    transport.Transport
	cfg   Config
	clock func() time.Time

	// sendMu serializes Connect, Send and Writer; it owns out.
	sendMu sync.Mutex
	out    [protocol.MaxPacketSize]byte

	// mu guards everything below.
	mu      sync.Mutex
	sendSig *util.Signal // ACK, SYNACK, close
	recvSig *util.Signal // slot filled, close

	peer       net.Addr
	sessID     uint16
	connecting bool
	lost       bool // session was torn down by the protocol, not by Close

	lastSendID    uint8
	lastSendAcked uint8
	lastRecvID    uint8
	lastRecvAt    time.Time
	lastPingAt    time.Time

	in    [protocol.MaxPayloadSize]byte
	inLen int
	slot  slotState

	started atomic.Bool
	death   tomb.Tomb
}

// New creates an unconnected Conn on tr. Zero fields of cfg take defaults.
func New(tr transport.Transport, cfg Config) *Conn {
	return &Conn{
		tr:      tr,
		cfg:     cfg.withDefaults(),
		clock:   time.Now,
		sendSig: util.NewSignal(),
		recvSig: util.NewSignal(),
	}
}

// Start launches the packet pump. It is a no-op after the first call.
func (c *Conn) Start() {
	if c.started.CompareAndSwap(false, true) {
		c.death.Go(c.pump)
	}
}

// Stop terminates the packet pump and waits for it. The transport is left
// open; the caller owns it.
func (c *Conn) Stop() error {
	if !c.started.Load() {
		return nil
	}
	c.death.Kill(nil)
	return c.death.Wait()
}

// Close tears down the active session, notifying the peer with RST and
// waking every blocked caller with ErrConnectionLost. The Conn can be
// connected again afterwards.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connecting {
		c.connecting = false
		c.sendSig.Broadcast()
	}
	c.lost = false
	c.closeLocked("closed by caller", false, true)
}

// SessionID returns the active session id, 0 when disconnected.
func (c *Conn) SessionID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessID
}

// RemoteAddr returns the peer of the last Connect.
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// closeLocked zeroes the session and wakes both wait groups. lost latches
// ErrConnectionLost for later calls; notifyPeer sends a best-effort RST.
func (c *Conn) closeLocked(reason string, lost, notifyPeer bool) {
	if c.sessID == 0 {
		return
	}
	if notifyPeer {
		c.writeControlLocked(protocol.FlagRst, 0)
	}

	util.LogInfo("session %d closed: %s", c.sessID, reason)
	c.sessID = 0
	c.lost = lost
	// A RecvBuffer slice stays valid until Release, even across sessions.
	if c.slot != slotDelivered {
		c.slot = slotEmpty
		c.inLen = 0
	}
	c.sendSig.Broadcast()
	c.recvSig.Broadcast()
	util.Stats.CloseSession()
}

// stateErrLocked reports why no operation can run, or nil when a session is
// active.
func (c *Conn) stateErrLocked() error {
	switch {
	case c.sessID != 0:
		return nil
	case c.lost:
		return protocol.ErrConnectionLost
	default:
		return protocol.ErrInvalidState
	}
}

// nextSendID advances the outgoing sequence cursor. Callers hold sendMu and
// mu.
func (c *Conn) nextSendID(reset bool) uint8 {
	if reset {
		c.lastSendID = 0
	} else {
		c.lastSendID++
	}
	return c.lastSendID
}

// writeControlLocked emits a header-only frame for the active session.
func (c *Conn) writeControlLocked(flags, id uint8) {
	var buf [protocol.HeaderSize]byte
	protocol.PutHeader(buf[:], protocol.Header{SessionID: c.sessID, SequenceID: id, Flags: flags})
	c.write(buf[:], c.peer)
}

// write hands one datagram to the transport. A failed write is treated as
// a lost packet; the retransmission loop covers it.
func (c *Conn) write(frame []byte, to net.Addr) {
	if to == nil {
		return
	}
	if h, err := protocol.ParseHeader(frame); err == nil {
		trace("sending", h, len(frame)-protocol.HeaderSize)
	}
	if err := c.tr.WriteTo(frame, to); err != nil {
		util.LogDebug("write to %s failed: %v", to, err)
		return
	}
	util.Stats.AddFrameSent()
}

func trace(prefix string, h protocol.Header, payloadLen int) {
	util.LogTrace("%-9s [sess=%d id=%d flags=%s] len=%d",
		prefix, h.SessionID, h.SequenceID, protocol.FlagString(h.Flags), payloadLen)
}
