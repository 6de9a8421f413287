package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/1ureka/udpsess/internal/protocol"
	"github.com/1ureka/udpsess/internal/util"
)

// Peer is one accepted session. Its protocol state is guarded by the
// owning Server's mutex.
type Peer struct {
	srv    *Server
	addr   net.Addr
	key    string
	sessID uint16

	handshaking bool // no traffic seen since SYNACK
	closed      bool
	lastRecvAt  time.Time

	lastSendID    uint8
	lastSendAcked uint8
	lastRecvID    uint8
	sig           *util.Signal // ACK or close

	// sendMu serializes Send; it owns out.
	sendMu sync.Mutex
	out    [protocol.MaxPacketSize]byte
}

// Addr returns the peer's transport address.
func (p *Peer) Addr() net.Addr { return p.addr }

// SessionID returns the id assigned at SYN time.
func (p *Peer) SessionID() uint16 { return p.sessID }

// Send delivers payload to the peer and waits for its ACK, resending every
// AckWait. On timeout the session is reset and dropped.
func (p *Peer) Send(payload []byte, timeout time.Duration) error {
	if len(payload) > protocol.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes (max %d)", protocol.ErrPayloadTooLarge, len(payload), protocol.MaxPayloadSize)
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	s := p.srv
	s.mu.Lock()
	if p.closed {
		s.mu.Unlock()
		return protocol.ErrConnectionLost
	}
	p.lastSendID++
	h := protocol.Header{SessionID: p.sessID, SequenceID: p.lastSendID, Flags: protocol.FlagData}
	s.mu.Unlock()

	protocol.PutHeader(p.out[:], h)
	n := copy(p.out[protocol.HeaderSize:], payload)
	frame := p.out[:protocol.HeaderSize+n]

	start := s.clock()
	for attempt := 0; ; attempt++ {
		wait := s.cfg.AckWait
		if timeout > 0 {
			remaining := timeout - s.clock().Sub(start)
			if remaining <= 0 {
				break
			}
			wait = min(wait, remaining)
		}

		if attempt > 0 {
			util.Stats.AddRetransmit()
		}
		s.write(frame, p.addr, h)

		s.mu.Lock()
		util.WaitFor(&s.mu, p.sig, wait, func() bool {
			return p.closed || p.lastSendAcked == h.SequenceID
		})
		closed, acked := p.closed, p.lastSendAcked == h.SequenceID
		s.mu.Unlock()

		switch {
		case closed:
			return protocol.ErrConnectionLost
		case acked:
			util.Stats.AddSent(n)
			return nil
		}
	}

	s.mu.Lock()
	note := s.dropLocked(p, "send timed out", true)
	s.mu.Unlock()
	note()
	return protocol.ErrTimeout
}

// Close resets the session and removes the peer.
func (p *Peer) Close() {
	s := p.srv
	s.mu.Lock()
	note := s.dropLocked(p, "closed by server", true)
	s.mu.Unlock()
	note()
}

// acceptDataLocked advances the receive cursor for the next in-order frame
// and returns a copy of its payload, or nil when there is nothing to
// deliver.
func (p *Peer) acceptDataLocked(h protocol.Header, payload []byte) []byte {
	if protocol.SeqDiff(h.SequenceID, p.lastRecvID) != 1 {
		util.Stats.AddDrop()
		return nil
	}
	p.lastRecvID = h.SequenceID
	if len(payload) == 0 {
		return nil
	}
	util.Stats.AddRecv(len(payload))
	return append([]byte(nil), payload...)
}

// acceptAckLocked records an ACK for the frame in flight. Duplicates and
// stale ACKs are ignored; an ACK for a frame never sent is a violation and
// reported as false.
func (p *Peer) acceptAckLocked(id uint8) bool {
	diff := protocol.SeqDiff(id, p.lastSendAcked)
	switch {
	case diff == 0 || diff >= 128:
		return true
	case diff == 1 && p.lastSendID == id:
		p.lastSendAcked = id
		p.sig.Broadcast()
		return true
	default:
		util.LogDebug("ACK %d out of range (last acked %d, last sent %d)", id, p.lastSendAcked, p.lastSendID)
		return false
	}
}
