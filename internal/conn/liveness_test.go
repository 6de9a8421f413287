package conn

import (
	"errors"
	"testing"
	"time"

	"github.com/1ureka/udpsess/internal/protocol"
)

// withFakeClock switches c to a settable clock starting at the session's
// current timestamps.
func withFakeClock(c *Conn) *fakeClock {
	clk := &fakeClock{now: time.Now()}
	c.mu.Lock()
	c.clock = clk.Now
	c.lastRecvAt = clk.now
	c.lastPingAt = clk.now
	c.mu.Unlock()
	return clk
}

func TestTickSendsPingAfterIdleInterval(t *testing.T) {
	rec := newRecorder()
	c := New(rec, testConfig())
	establish(t, c, rec, 42, 7)
	clk := withFakeClock(c)
	rec.drain(5 * time.Millisecond)

	clk.Advance(50 * time.Millisecond)
	c.tick()
	if frames := rec.drain(10 * time.Millisecond); len(frames) != 0 {
		t.Fatalf("ping sent before the interval: %+v", frames)
	}

	clk.Advance(50 * time.Millisecond)
	c.tick()
	ping := rec.next(t)
	if ping.header != (protocol.Header{SessionID: 42, Flags: protocol.FlagPing}) {
		t.Fatalf("expected PING, got %+v", ping.header)
	}

	// Not again until another interval has passed.
	clk.Advance(10 * time.Millisecond)
	c.tick()
	if frames := rec.drain(10 * time.Millisecond); len(frames) != 0 {
		t.Fatalf("second ping too early: %+v", frames)
	}
}

func TestTickSkipsPingWhileSending(t *testing.T) {
	rec := newRecorder()
	c := New(rec, testConfig())
	establish(t, c, rec, 42, 7)
	clk := withFakeClock(c)
	rec.drain(5 * time.Millisecond)

	w := c.BeginWrite()
	clk.Advance(150 * time.Millisecond)
	c.tick()
	w.Discard()

	if frames := rec.drain(10 * time.Millisecond); len(frames) != 0 {
		t.Fatalf("ping sent while the send lock was held: %+v", frames)
	}
	c.tick()
	if f := rec.next(t); !f.header.Has(protocol.FlagPing) {
		t.Fatalf("expected PING once the lock is free, got %+v", f.header)
	}
}

func TestReceivedTrafficDefersPing(t *testing.T) {
	rec := newRecorder()
	c := New(rec, testConfig())
	establish(t, c, rec, 42, 7)
	clk := withFakeClock(c)
	rec.drain(5 * time.Millisecond)

	clk.Advance(80 * time.Millisecond)
	c.dispatch(protocol.Header{SessionID: 42, Flags: protocol.FlagPing}, nil)
	clk.Advance(80 * time.Millisecond)
	c.tick()

	if frames := rec.drain(10 * time.Millisecond); len(frames) != 0 {
		t.Fatalf("ping sent although the peer was heard recently: %+v", frames)
	}
}

func TestTickDeclaresDeadPeer(t *testing.T) {
	rec := newRecorder()
	c := New(rec, testConfig())
	establish(t, c, rec, 42, 7)
	clk := withFakeClock(c)

	clk.Advance(299 * time.Millisecond)
	c.tick()
	if c.SessionID() != 42 {
		t.Fatal("session closed before the dead-peer threshold")
	}

	clk.Advance(time.Millisecond)
	c.tick()
	if c.SessionID() != 0 {
		t.Fatal("session survived the dead-peer threshold")
	}
	rec.nextWith(t, protocol.FlagRst)

	if _, err := c.Recv(make([]byte, 8), time.Second); !errors.Is(err, protocol.ErrConnectionLost) {
		t.Errorf("Recv: expected ErrConnectionLost, got %v", err)
	}
}

// End to end through the pump: a silent peer is detected without any caller
// activity, and a blocked Recv wakes with ErrConnectionLost well before its
// own timeout.
func TestPumpDetectsSilentPeer(t *testing.T) {
	rec := newRecorder()
	defer rec.Close()
	c := New(rec, testConfig())
	establish(t, c, rec, 42, 7)
	c.Start()
	defer c.Stop()

	start := time.Now()
	_, err := c.Recv(make([]byte, 8), 10*time.Second)
	if !errors.Is(err, protocol.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("dead peer detected after %v", elapsed)
	}

	var sawPing bool
	for _, f := range rec.drain(20 * time.Millisecond) {
		if f.header.Has(protocol.FlagPing) {
			sawPing = true
		}
	}
	if !sawPing {
		t.Error("no keepalive sent before giving up")
	}

	if err := c.Send([]byte("x"), time.Second); !errors.Is(err, protocol.ErrConnectionLost) {
		t.Errorf("Send: expected ErrConnectionLost, got %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	c := New(newRecorder(), testConfig())
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
