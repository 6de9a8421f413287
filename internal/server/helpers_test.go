package server

import (
	"testing"
	"time"

	"github.com/1ureka/udpsess/internal/protocol"
	"github.com/1ureka/udpsess/internal/transport"
)

type packet struct {
	peer    *Peer
	payload []byte
}

type disconnect struct {
	peer   *Peer
	reason string
}

// recHandler forwards every callback to a channel.
type recHandler struct {
	connected    chan *Peer
	packets      chan packet
	disconnected chan disconnect
}

func newRecHandler() *recHandler {
	return &recHandler{
		connected:    make(chan *Peer, 64),
		packets:      make(chan packet, 256),
		disconnected: make(chan disconnect, 64),
	}
}

func (h *recHandler) OnConnect(p *Peer)                   { h.connected <- p }
func (h *recHandler) OnPacket(p *Peer, payload []byte)    { h.packets <- packet{p, payload} }
func (h *recHandler) OnDisconnect(p *Peer, reason string) { h.disconnected <- disconnect{p, reason} }

func (h *recHandler) nextConnect(t *testing.T) *Peer {
	t.Helper()
	select {
	case p := <-h.connected:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no OnConnect within 2s")
		return nil
	}
}

func (h *recHandler) nextDisconnect(t *testing.T) disconnect {
	t.Helper()
	select {
	case d := <-h.disconnected:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no OnDisconnect within 2s")
		return disconnect{}
	}
}

func testConfig() Config {
	return Config{
		AckWait:       20 * time.Millisecond,
		DeadPeerAfter: time.Second,
		ReapInterval:  50 * time.Millisecond,
	}
}

// startServer runs a Server on one end of a pipe and returns the other end
// for the test to speak raw frames on.
func startServer(t *testing.T, cfg Config) (*Server, *recHandler, *transport.PipeEnd) {
	t.Helper()
	client, srvEnd := transport.Pipe()
	h := newRecHandler()
	s := New(srvEnd, cfg, h)
	s.Start()
	t.Cleanup(func() {
		s.Stop()
		client.Close()
		srvEnd.Close()
	})
	return s, h, client
}

func sendRaw(t *testing.T, tr transport.Transport, h protocol.Header, payload []byte) {
	t.Helper()
	frame, err := protocol.Encode(h, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := tr.WriteTo(frame, nil); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
}

// expectFrame reads frames until one carries flag.
func expectFrame(t *testing.T, tr transport.Transport, flag uint8) (protocol.Header, []byte) {
	t.Helper()
	buf := make([]byte, protocol.MaxPacketSize)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, _, err := tr.ReadFrom(buf, 100*time.Millisecond)
		if err != nil {
			continue
		}
		h, payload, err := protocol.Decode(buf[:n])
		if err == nil && h.Has(flag) {
			return h, append([]byte(nil), payload...)
		}
	}
	t.Fatalf("no %s frame within 2s", protocol.FlagString(flag))
	return protocol.Header{}, nil
}

// expectSilence fails if any frame arrives within d.
func expectSilence(t *testing.T, tr transport.Transport, d time.Duration) {
	t.Helper()
	buf := make([]byte, protocol.MaxPacketSize)
	if n, _, err := tr.ReadFrom(buf, d); err == nil {
		h, _, _ := protocol.Decode(buf[:n])
		t.Fatalf("unexpected frame %+v", h)
	}
}

// handshake opens a session with raw frames and returns the SYNACK.
func handshake(t *testing.T, tr transport.Transport) protocol.Header {
	t.Helper()
	sendRaw(t, tr, protocol.Header{Flags: protocol.FlagSyn}, nil)
	h, _ := expectFrame(t, tr, protocol.FlagSynAck)
	if h.SessionID == 0 {
		t.Fatal("SYNACK carries session id 0")
	}
	return h
}
