package server

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/1ureka/udpsess/internal/conn"
	"github.com/1ureka/udpsess/internal/protocol"
	"github.com/1ureka/udpsess/internal/transport"
)

// echo sends every received payload back from a worker goroutine, the way
// a Handler is meant to.
func echo(t *testing.T, h *recHandler) {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		for {
			select {
			case pkt := <-h.packets:
				if err := pkt.peer.Send(pkt.payload, 5*time.Second); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
}

func clientConfig() conn.Config {
	return conn.Config{
		AckWait:       20 * time.Millisecond,
		PingInterval:  100 * time.Millisecond,
		DeadPeerAfter: time.Second,
	}
}

// lossy drops every third datagram and duplicates every fifth.
func lossy() func([]byte) transport.Action {
	var n atomic.Int64
	return func([]byte) transport.Action {
		switch i := n.Add(1); {
		case i%3 == 0:
			return transport.Drop
		case i%5 == 0:
			return transport.Duplicate
		}
		return transport.Deliver
	}
}

func runEcho(t *testing.T, degrade bool) {
	clientEnd, srvEnd := transport.Pipe()
	defer clientEnd.Close()
	defer srvEnd.Close()
	if degrade {
		clientEnd.SetFilter(lossy())
		srvEnd.SetFilter(lossy())
	}

	h := newRecHandler()
	s := New(srvEnd, testConfig(), h)
	s.Start()
	defer s.Stop()
	echo(t, h)

	c := conn.New(clientEnd, clientConfig())
	c.Start()
	defer c.Stop()

	if err := c.Connect(clientEnd.RemoteAddr(), 5*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p := h.nextConnect(t)
	if p.SessionID() != c.SessionID() {
		t.Fatalf("session ids differ: server %d, client %d", p.SessionID(), c.SessionID())
	}

	buf := make([]byte, protocol.MaxPayloadSize)
	for i := range 40 {
		msg := fmt.Sprintf("message %d", i)
		if err := c.Send([]byte(msg), 5*time.Second); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		n, err := c.Recv(buf, 5*time.Second)
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if got := string(buf[:n]); got != msg {
			t.Fatalf("echo %d: got %q", i, got)
		}
	}

	// On the lossy link the RST may be lost; the reaper covers that.
	c.Close()
	if d := h.nextDisconnect(t); !degrade && d.reason != "reset by peer" {
		t.Errorf("disconnect reason: %q", d.reason)
	}
}

func TestEchoOverCleanLink(t *testing.T) {
	runEcho(t, false)
}

func TestEchoOverLossyLink(t *testing.T) {
	runEcho(t, true)
}

func TestClientKeepsIdleSessionAlive(t *testing.T) {
	clientEnd, srvEnd := transport.Pipe()
	defer clientEnd.Close()
	defer srvEnd.Close()

	cfg := testConfig()
	cfg.DeadPeerAfter = 300 * time.Millisecond
	h := newRecHandler()
	s := New(srvEnd, cfg, h)
	s.Start()
	defer s.Stop()

	c := conn.New(clientEnd, clientConfig())
	c.Start()
	defer c.Stop()
	if err := c.Connect(clientEnd.RemoteAddr(), time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Idle for several server timeouts; keepalives hold the session.
	time.Sleep(time.Second)
	select {
	case d := <-h.disconnected:
		t.Fatalf("idle session dropped: %s", d.reason)
	default:
	}
	if c.SessionID() == 0 {
		t.Fatal("client lost its session while idle")
	}
}

func TestServerResetReachesClient(t *testing.T) {
	clientEnd, srvEnd := transport.Pipe()
	defer clientEnd.Close()
	defer srvEnd.Close()

	h := newRecHandler()
	s := New(srvEnd, testConfig(), h)
	s.Start()
	defer s.Stop()

	c := conn.New(clientEnd, clientConfig())
	c.Start()
	defer c.Stop()
	if err := c.Connect(clientEnd.RemoteAddr(), time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	h.nextConnect(t).Close()

	if _, err := c.Recv(make([]byte, 16), 2*time.Second); !errors.Is(err, protocol.ErrConnectionLost) {
		t.Fatalf("Recv: expected ErrConnectionLost, got %v", err)
	}
}
