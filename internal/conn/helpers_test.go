package conn

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/udpsess/internal/protocol"
	"github.com/1ureka/udpsess/internal/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*recorder)(nil)

var peerAddr = transport.PipeAddr("peer")

// sentFrame is one datagram captured by the recorder.
type sentFrame struct {
	header  protocol.Header
	payload []byte
}

// recorder is a Transport that never delivers anything: it records every
// outgoing frame and lets the test play the peer by calling dispatch.
type recorder struct {
	sent   chan sentFrame
	closed chan struct{}
	once   sync.Once
}

func newRecorder() *recorder {
	return &recorder{
		sent:   make(chan sentFrame, 1024),
		closed: make(chan struct{}),
	}
}

func (r *recorder) WriteTo(p []byte, _ net.Addr) error {
	h, payload, err := protocol.Decode(p)
	if err != nil {
		return err
	}
	f := sentFrame{header: h, payload: append([]byte(nil), payload...)}
	select {
	case r.sent <- f:
	default:
	}
	return nil
}

func (r *recorder) ReadFrom(_ []byte, timeout time.Duration) (int, net.Addr, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return 0, nil, transport.ErrNoData
	case <-r.closed:
		return 0, nil, transport.ErrClosed
	}
}

func (r *recorder) LocalAddr() net.Addr { return transport.PipeAddr("local") }

func (r *recorder) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

// next returns the next emitted frame or fails the test.
func (r *recorder) next(t *testing.T) sentFrame {
	t.Helper()
	select {
	case f := <-r.sent:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame emitted within 2s")
		return sentFrame{}
	}
}

// nextWith skips frames until one carries flag.
func (r *recorder) nextWith(t *testing.T, flag uint8) sentFrame {
	t.Helper()
	for {
		f := r.next(t)
		if f.header.Has(flag) {
			return f
		}
	}
}

// drain returns whatever is emitted within d.
func (r *recorder) drain(d time.Duration) []sentFrame {
	var out []sentFrame
	deadline := time.After(d)
	for {
		select {
		case f := <-r.sent:
			out = append(out, f)
		case <-deadline:
			return out
		}
	}
}

// fakeClock is a settable time source for liveness tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func testConfig() Config {
	return Config{
		AckWait:       30 * time.Millisecond,
		PingInterval:  100 * time.Millisecond,
		DeadPeerAfter: 300 * time.Millisecond,
	}
}

// establish runs Connect against the recorder and answers its SYN with
// SYNACK{sess, seq}.
func establish(t *testing.T, c *Conn, rec *recorder, sess uint16, seq uint8) {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(peerAddr, 2*time.Second) }()

	syn := rec.next(t)
	if !syn.header.Has(protocol.FlagSyn) {
		t.Fatalf("expected SYN, got %s", protocol.FlagString(syn.header.Flags))
	}
	c.dispatch(protocol.Header{SessionID: sess, SequenceID: seq, Flags: protocol.FlagSynAck}, nil)

	if err := <-errCh; err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
}

func dataFrame(sess uint16, seq uint8) protocol.Header {
	return protocol.Header{SessionID: sess, SequenceID: seq, Flags: protocol.FlagData}
}

func ackFrame(sess uint16, seq uint8) protocol.Header {
	return protocol.Header{SessionID: sess, SequenceID: seq, Flags: protocol.FlagAck}
}
