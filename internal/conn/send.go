package conn

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/udpsess/internal/protocol"
	"github.com/1ureka/udpsess/internal/util"
)

// errPending is the retransmission predicate's "keep waiting" answer.
var errPending = errors.New("pending")

// Connect performs the handshake with addr: it resets the local counters,
// sends SYN and resends it every AckWait until a SYNACK assigns a session id
// or timeout elapses. A timed-out handshake leaves the Conn unconnected. A
// non-positive timeout retries until Close.
func (c *Conn) Connect(addr net.Addr, timeout time.Duration) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	c.closeLocked("reconnecting", false, true)
	c.peer = addr
	c.lost = false
	c.connecting = true
	c.lastSendAcked = 0
	id := c.nextSendID(true)
	c.mu.Unlock()

	util.LogInfo("connecting to %s", addr)
	protocol.PutHeader(c.out[:], protocol.Header{SequenceID: id, Flags: protocol.FlagSyn})

	err := c.retransmit(c.out[:protocol.HeaderSize], addr, timeout, func() error {
		switch {
		case c.sessID != 0:
			return nil
		case !c.connecting:
			return protocol.ErrConnectionLost
		}
		return errPending
	})

	// A SYNACK may land between the last wait and here; the session it
	// opened wins over the timeout.
	c.mu.Lock()
	c.connecting = false
	if c.sessID != 0 {
		err = nil
	}
	c.mu.Unlock()

	if err != nil {
		util.LogWarning("connect to %s failed: %v", addr, err)
		return err
	}
	return nil
}

// Send delivers payload as one DATA frame and blocks until the peer
// acknowledges it. The frame is retransmitted unchanged every AckWait. If
// timeout elapses first the session is closed and ErrTimeout returned; a
// send timeout is terminal for the connection. Payloads larger than
// protocol.MaxPayloadSize are rejected.
func (c *Conn) Send(payload []byte, timeout time.Duration) error {
	if len(payload) > protocol.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes (max %d)", protocol.ErrPayloadTooLarge, len(payload), protocol.MaxPayloadSize)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	n := copy(c.out[protocol.HeaderSize:], payload)
	return c.sendBuffered(n, timeout)
}

// sendBuffered transmits the first n payload bytes already in out. The
// caller holds sendMu.
func (c *Conn) sendBuffered(n int, timeout time.Duration) error {
	c.mu.Lock()
	if err := c.stateErrLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	sess := c.sessID
	peer := c.peer
	id := c.nextSendID(false)
	c.mu.Unlock()

	protocol.PutHeader(c.out[:], protocol.Header{SessionID: sess, SequenceID: id, Flags: protocol.FlagData})

	err := c.retransmit(c.out[:protocol.HeaderSize+n], peer, timeout, func() error {
		switch {
		case c.lastSendAcked == id && c.sessID == sess:
			return nil
		case c.sessID != sess:
			return protocol.ErrConnectionLost
		}
		return errPending
	})

	switch {
	case err == nil:
		util.Stats.AddSent(n)
	case errors.Is(err, protocol.ErrTimeout):
		c.abort(sess, "send timed out")
	}
	return err
}

// retransmit sends frame and waits up to AckWait for check to settle,
// resending the identical frame after every silent interval until timeout
// is spent. check runs with mu held and returns errPending to keep waiting.
// The caller holds sendMu.
func (c *Conn) retransmit(frame []byte, to net.Addr, timeout time.Duration, check func() error) error {
	start := c.clock()
	for attempt := 0; ; attempt++ {
		wait := c.cfg.AckWait
		if timeout > 0 {
			remaining := timeout - c.clock().Sub(start)
			if remaining <= 0 {
				return protocol.ErrTimeout
			}
			wait = min(wait, remaining)
		}

		if attempt > 0 {
			util.Stats.AddRetransmit()
			util.LogDebug("no ack within %v, resending (attempt %d)", c.cfg.AckWait, attempt+1)
		}
		c.write(frame, to)

		res := errPending
		c.mu.Lock()
		util.WaitFor(&c.mu, c.sendSig, wait, func() bool {
			res = check()
			return res != errPending
		})
		c.mu.Unlock()

		if res != errPending {
			return res
		}
	}
}

// abort force-closes session sess if it is still the active one, as if the
// peer had reset it.
func (c *Conn) abort(sess uint16, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessID == sess {
		c.closeLocked(reason, true, true)
	}
}
