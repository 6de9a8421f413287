package conn

import (
	"net"
	"time"

	"github.com/1ureka/udpsess/internal/protocol"
	"github.com/1ureka/udpsess/internal/util"
)

// Recv waits up to timeout for the next in-order payload and copies it into
// buf. On a quiet link it returns (0, protocol.ErrTimeout), which leaves the
// session intact; the caller is expected to retry. If buf is too small the
// payload stays buffered and protocol.ErrNoSpace is returned. A
// non-positive timeout waits until data or teardown.
func (c *Conn) Recv(buf []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := c.awaitSlotLocked(timeout)
	if err != nil {
		return 0, err
	}
	if len(buf) < len(payload) {
		return 0, protocol.ErrNoSpace
	}

	n := copy(buf, payload)
	c.slot = slotEmpty
	c.inLen = 0
	return n, nil
}

// RecvBuffer is Recv without the copy: the returned slice aliases the
// staging slot and stays valid until Release, even if the session closes or
// a new one is connected meanwhile. No further payload is accepted from any
// session until then.
func (c *Conn) RecvBuffer(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := c.awaitSlotLocked(timeout)
	if err != nil {
		return nil, err
	}
	c.slot = slotDelivered
	return payload, nil
}

// Release frees the staging slot after RecvBuffer.
func (c *Conn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == slotDelivered {
		c.slot = slotEmpty
		c.inLen = 0
	}
}

func (c *Conn) awaitSlotLocked(timeout time.Duration) ([]byte, error) {
	if err := c.stateErrLocked(); err != nil {
		return nil, err
	}
	sess := c.sessID

	ok := util.WaitFor(&c.mu, c.recvSig, timeout, func() bool {
		return c.slot == slotFilled || c.sessID != sess
	})
	switch {
	case c.sessID != sess:
		return nil, protocol.ErrConnectionLost
	case !ok:
		return nil, protocol.ErrTimeout
	}
	return c.in[:c.inLen], nil
}

// handleDatagram decodes one datagram read by the pump and dispatches it.
// Malformed frames and frames from strangers are dropped.
func (c *Conn) handleDatagram(data []byte, from net.Addr) {
	util.Stats.AddFrameRecv()

	h, payload, err := protocol.Decode(data)
	if err != nil {
		util.Stats.AddDrop()
		util.LogDebug("dropping datagram from %s: %v", from, err)
		return
	}

	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil || from == nil || from.String() != peer.String() {
		util.Stats.AddDrop()
		util.LogDebug("dropping datagram from unknown source %v", from)
		return
	}

	c.dispatch(h, payload)
}

// dispatch applies one received frame to the session. Flags are examined
// in priority order: RST, SYNACK, session check, PING, DATA, ACK.
func (c *Conn) dispatch(h protocol.Header, payload []byte) {
	trace("received", h, len(payload))

	c.mu.Lock()
	defer c.mu.Unlock()

	if h.Has(protocol.FlagRst) {
		c.closeLocked("reset by peer", true, false)
		return
	}

	if h.Has(protocol.FlagSynAck) {
		c.adoptSessionLocked(h)
		return
	}

	if c.sessID == 0 {
		util.Stats.AddDrop()
		util.LogDebug("no session, ignoring %s", protocol.FlagString(h.Flags))
		return
	}

	if h.SessionID != c.sessID {
		c.closeLocked("session id mismatch", true, false)
		return
	}

	now := c.clock()

	if h.Has(protocol.FlagPing) {
		c.lastRecvAt = now
	}

	if h.Has(protocol.FlagData) {
		c.acceptDataLocked(h, payload)
		c.lastRecvAt = now
		c.writeControlLocked(protocol.FlagAck, c.lastRecvID)
	}

	if h.Has(protocol.FlagAck) {
		c.lastSendAcked = h.SequenceID
		c.sendSig.Broadcast()
		c.lastRecvAt = now
	}
}

func (c *Conn) adoptSessionLocked(h protocol.Header) {
	if !c.connecting {
		util.Stats.AddDrop()
		util.LogDebug("stray SYNACK for session %d ignored", h.SessionID)
		return
	}
	if h.SessionID == 0 {
		util.Stats.AddDrop()
		util.LogDebug("SYNACK without session id ignored")
		return
	}

	c.sessID = h.SessionID
	c.lastRecvID = h.SequenceID
	c.lastRecvAt = c.clock()
	c.lastPingAt = c.lastRecvAt
	c.sendSig.Broadcast()
	util.Stats.OpenSession()
	util.LogInfo("session %d established with %s", c.sessID, c.peer)
}

// acceptDataLocked stores the next in-order payload if the slot is free.
// Anything else is dropped without touching state; the ACK that follows
// tells the sender where we are.
func (c *Conn) acceptDataLocked(h protocol.Header, payload []byte) {
	diff := protocol.SeqDiff(h.SequenceID, c.lastRecvID)
	switch {
	case diff != 1:
		util.Stats.AddDrop()
		util.LogDebug("skipping frame id %d, last %d (diff %d)", h.SequenceID, c.lastRecvID, diff)
	case len(payload) == 0:
		c.lastRecvID = h.SequenceID
	case c.slot != slotEmpty:
		util.Stats.AddDrop()
		util.LogDebug("staging slot busy, dropping frame id %d", h.SequenceID)
	default:
		c.inLen = copy(c.in[:], payload)
		c.slot = slotFilled
		c.lastRecvID = h.SequenceID
		c.recvSig.Broadcast()
		util.Stats.AddRecv(c.inLen)
	}
}
