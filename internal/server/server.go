// Package server implements the accepting side of the session protocol.
//
// One Server multiplexes many peers over a single Transport, keyed by the
// peer's transport address. Each SYN opens a session with a random id and a
// random initial sequence id; DATA is delivered in order to a Handler and
// every frame is acknowledged; PINGs are echoed; peers that fall silent are
// reaped.
package server

import (
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/tomb.v2"

	"github.com/1ureka/udpsess/internal/protocol"
	"github.com/1ureka/udpsess/internal/transport"
	"github.com/1ureka/udpsess/internal/util"
)

// Handler receives session events. Callbacks run on the server's read loop
// with no locks held; they must not block on Peer.Send, whose ACKs are
// processed by that same loop. Hand the work to another goroutine instead.
type Handler interface {
	OnConnect(p *Peer)
	// OnPacket gets a payload the handler may keep.
	OnPacket(p *Peer, payload []byte)
	OnDisconnect(p *Peer, reason string)
}

// Server is the acceptor. Create it with New, then Start.
type Server struct {
	tr      transport.Transport
	cfg     Config
	handler Handler
	clock   func() time.Time
	limiter *rate.Limiter

	// mu guards the peer table and all per-peer protocol state.
	mu    sync.Mutex
	peers map[string]*Peer

	started atomic.Bool
	t       tomb.Tomb
}

// New creates a Server on tr. Zero fields of cfg take defaults.
func New(tr transport.Transport, cfg Config, h Handler) *Server {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.AcceptRate > 0 {
		limit = rate.Limit(cfg.AcceptRate)
	}

	return &Server{
		tr:      tr,
		cfg:     cfg,
		handler: h,
		clock:   time.Now,
		limiter: rate.NewLimiter(limit, cfg.AcceptBurst),
		peers:   make(map[string]*Peer),
	}
}

// Start launches the read loop. It is a no-op after the first call.
func (s *Server) Start() {
	if s.started.CompareAndSwap(false, true) {
		s.t.Go(s.loop)
	}
}

// Stop ends the read loop, resets every peer and waits. The transport is
// left open.
func (s *Server) Stop() error {
	if !s.started.Load() {
		return nil
	}
	s.t.Kill(nil)
	err := s.t.Wait()

	var notes []func()
	s.mu.Lock()
	for _, p := range s.peers {
		notes = append(notes, s.dropLocked(p, "server stopped", true))
	}
	s.mu.Unlock()
	runAll(notes)
	return err
}

// Peers returns a snapshot of the active sessions.
func (s *Server) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

func (s *Server) loop() error {
	buf := make([]byte, protocol.MaxPacketSize+1)
	lastReap := s.clock()

	for {
		select {
		case <-s.t.Dying():
			return nil
		default:
		}

		n, from, err := s.tr.ReadFrom(buf, s.cfg.ReapInterval)
		switch {
		case errors.Is(err, transport.ErrNoData):
		case errors.Is(err, transport.ErrClosed):
			util.LogDebug("transport closed, server loop exiting")
			return nil
		case err != nil:
			util.LogDebug("read failed: %v", err)
		default:
			s.handleDatagram(buf[:n], from)
		}

		if now := s.clock(); now.Sub(lastReap) >= s.cfg.ReapInterval {
			s.reap(now)
			lastReap = now
		}
	}
}

// reap drops every peer silent for DeadPeerAfter.
func (s *Server) reap(now time.Time) {
	var notes []func()
	s.mu.Lock()
	for _, p := range s.peers {
		if now.Sub(p.lastRecvAt) >= s.cfg.DeadPeerAfter {
			notes = append(notes, s.dropLocked(p, "no packet received within "+s.cfg.DeadPeerAfter.String(), true))
		}
	}
	s.mu.Unlock()
	runAll(notes)
}

func (s *Server) handleDatagram(data []byte, from net.Addr) {
	util.Stats.AddFrameRecv()

	h, payload, err := protocol.Decode(data)
	if err != nil {
		util.Stats.AddDrop()
		util.LogDebug("dropping datagram from %s: %v", from, err)
		return
	}
	trace("received", from, h, len(payload))

	s.mu.Lock()
	notes := s.dispatchLocked(h, payload, from)
	s.mu.Unlock()
	runAll(notes)
}

// dispatchLocked applies one frame and returns the handler callbacks to run
// once mu is released.
func (s *Server) dispatchLocked(h protocol.Header, payload []byte, from net.Addr) []func() {
	key := from.String()
	p := s.peers[key]

	switch {
	case h.Has(protocol.FlagRst):
		if p != nil && h.SessionID == p.sessID {
			return []func(){s.dropLocked(p, "reset by peer", false)}
		}
		return nil

	case h.Has(protocol.FlagSyn):
		return s.synLocked(p, h, from)

	case p == nil:
		util.Stats.AddDrop()
		util.LogDebug("%s from unknown peer %s, answering RST", protocol.FlagString(h.Flags), from)
		s.writeControl(from, protocol.Header{SessionID: h.SessionID, Flags: protocol.FlagRst})
		return nil

	case h.SessionID != p.sessID:
		util.LogDebug("session id mismatch from %s: got %d, want %d", from, h.SessionID, p.sessID)
		return []func(){s.dropLocked(p, "session id mismatch", true)}
	}

	p.lastRecvAt = s.clock()
	p.handshaking = false

	var notes []func()

	if h.Has(protocol.FlagPing) {
		s.writeControl(p.addr, protocol.Header{SessionID: p.sessID, Flags: protocol.FlagPing})
	}

	if h.Has(protocol.FlagData) {
		if data := p.acceptDataLocked(h, payload); data != nil {
			notes = append(notes, func() { s.handler.OnPacket(p, data) })
		}
		s.writeControl(p.addr, protocol.Header{SessionID: p.sessID, SequenceID: p.lastRecvID, Flags: protocol.FlagAck})
	}

	if h.Has(protocol.FlagAck) {
		if !p.acceptAckLocked(h.SequenceID) {
			notes = append(notes, s.dropLocked(p, "invalid ACK", true))
		}
	}

	return notes
}

// synLocked opens a session for from, or answers a retransmitted SYN. The
// SYN's id is the client's starting point: its first DATA carries the next.
func (s *Server) synLocked(p *Peer, h protocol.Header, from net.Addr) []func() {
	var notes []func()

	if p != nil {
		if p.handshaking {
			util.LogDebug("duplicate SYN from %s, resending SYNACK", from)
			s.writeControl(from, protocol.Header{SessionID: p.sessID, SequenceID: p.lastSendAcked, Flags: protocol.FlagSynAck})
			return nil
		}
		notes = append(notes, s.dropLocked(p, "reset by new SYN", false))
	}

	if s.cfg.MaxPeers > 0 && len(s.peers) >= s.cfg.MaxPeers {
		util.Stats.AddDrop()
		util.LogWarning("peer limit %d reached, ignoring SYN from %s", s.cfg.MaxPeers, from)
		return notes
	}
	if !s.limiter.Allow() {
		util.Stats.AddDrop()
		util.LogDebug("SYN from %s rate limited", from)
		return notes
	}

	np := &Peer{
		srv:         s,
		addr:        from,
		key:         from.String(),
		sessID:      uint16(rand.IntN(0xFFFF) + 1),
		handshaking: true,
		lastRecvAt:  s.clock(),
		lastRecvID:  h.SequenceID,
		sig:         util.NewSignal(),
	}
	initial := uint8(rand.UintN(256))
	np.lastSendID = initial
	np.lastSendAcked = initial

	s.peers[np.key] = np
	util.Stats.OpenSession()
	util.LogInfo("session %d opened for %s", np.sessID, from)

	s.writeControl(from, protocol.Header{SessionID: np.sessID, SequenceID: initial, Flags: protocol.FlagSynAck})
	return append(notes, func() { s.handler.OnConnect(np) })
}

// dropLocked removes p, wakes its sender and optionally sends RST. The
// returned callback reports the disconnect.
func (s *Server) dropLocked(p *Peer, reason string, notifyPeer bool) func() {
	if p.closed {
		return func() {}
	}
	if notifyPeer {
		s.writeControl(p.addr, protocol.Header{SessionID: p.sessID, Flags: protocol.FlagRst})
	}

	p.closed = true
	p.sig.Broadcast()
	if s.peers[p.key] == p {
		delete(s.peers, p.key)
	}
	util.Stats.CloseSession()
	util.LogInfo("session %d for %s closed: %s", p.sessID, p.addr, reason)

	return func() { s.handler.OnDisconnect(p, reason) }
}

func (s *Server) writeControl(to net.Addr, h protocol.Header) {
	var buf [protocol.HeaderSize]byte
	protocol.PutHeader(buf[:], h)
	s.write(buf[:], to, h)
}

func (s *Server) write(frame []byte, to net.Addr, h protocol.Header) {
	trace("sending", to, h, len(frame)-protocol.HeaderSize)
	if err := s.tr.WriteTo(frame, to); err != nil {
		util.LogDebug("write to %s failed: %v", to, err)
		return
	}
	util.Stats.AddFrameSent()
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func trace(prefix string, addr net.Addr, h protocol.Header, payloadLen int) {
	util.LogTrace("%-9s %s [sess=%d id=%d flags=%s] len=%d",
		prefix, addr, h.SessionID, h.SequenceID, protocol.FlagString(h.Flags), payloadLen)
}
