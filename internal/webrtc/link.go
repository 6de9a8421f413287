package webrtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/udpsess/internal/transport"
	"github.com/1ureka/udpsess/internal/util"
)

const (
	// HighWaterMark: datagrams written while more than this is buffered in
	// SCTP are dropped, as a congested socket would.
	HighWaterMark = 256 * 1024
	// inboxSize bounds received datagrams not yet read.
	inboxSize = 256
)

// ErrNotOpen is returned by WriteTo before the DataChannel opens.
var ErrNotOpen = errors.New("webrtc: data channel not open")

// Addr names an endpoint of a Link. A Link has exactly one peer, so the
// address only serves to satisfy the session layer's source check.
type Addr string

func (a Addr) Network() string { return "webrtc" }
func (a Addr) String() string  { return string(a) }

const (
	localAddr  Addr = "webrtc-local"
	remoteAddr Addr = "webrtc-remote"
)

// Compile-time interface check.
var _ transport.Transport = (*Link)(nil)

// Link wraps a single PeerConnection + DataChannel pair. Signaling goes
// through the exposed SDP/ICE methods; once Ready fires it behaves as a
// datagram transport with one fixed peer.
//
// Its lifecycle follows the DataChannel and the context passed to NewLink.
type Link struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	inbox      chan []byte
	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewLink creates a Link backed by a new PeerConnection and a pre-negotiated
// DataChannel. The Link stays alive while the DataChannel is open and ctx
// has not been cancelled.
func NewLink(ctx context.Context) (*Link, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("webrtc: new peer connection: %w", err)
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: new data channel: %w", err)
	}

	lCtx, lCancel := context.WithCancel(ctx)
	l := &Link{
		pc:         pc,
		dc:         dc,
		inbox:      make(chan []byte, inboxSize),
		openSignal: make(chan struct{}),
		ctx:        lCtx,
		cancel:     lCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(l.openSignal) })
	})

	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		lCancel()
	})

	dc.OnMessage(l.deliver)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		l.mu.Lock()
		l.pcState = state
		l.mu.Unlock()
	})

	return l, nil
}

// deliver queues one inbound message; a full inbox loses it.
func (l *Link) deliver(msg webrtc.DataChannelMessage) {
	select {
	case l.inbox <- append([]byte(nil), msg.Data...):
	default:
		util.Stats.AddDrop()
		util.LogDebug("link inbox full, dropping %d-byte message", len(msg.Data))
	}
}

// Ready returns a channel closed once the DataChannel is open.
func (l *Link) Ready() <-chan struct{} {
	return l.openSignal
}

// Done returns a channel closed when the Link shuts down.
func (l *Link) Done() <-chan struct{} {
	return l.ctx.Done()
}

// ConnectionState returns the last observed PeerConnection state.
func (l *Link) ConnectionState() webrtc.PeerConnectionState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pcState
}

// RemoteAddr is the address inbound datagrams are reported from and the one
// to Connect to.
func (l *Link) RemoteAddr() net.Addr { return remoteAddr }

// LocalAddr implements transport.Transport.
func (l *Link) LocalAddr() net.Addr { return localAddr }

// WriteTo sends p as one DataChannel message. addr is ignored.
func (l *Link) WriteTo(p []byte, _ net.Addr) error {
	select {
	case <-l.ctx.Done():
		return transport.ErrClosed
	case <-l.openSignal:
	default:
		return ErrNotOpen
	}

	if l.dc.BufferedAmount() > HighWaterMark {
		util.Stats.AddDrop()
		return nil
	}
	return l.dc.Send(append([]byte(nil), p...))
}

// ReadFrom implements transport.Transport.
func (l *Link) ReadFrom(p []byte, timeout time.Duration) (int, net.Addr, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-l.inbox:
		return copy(p, data), remoteAddr, nil
	case <-timer.C:
		return 0, nil, transport.ErrNoData
	case <-l.ctx.Done():
		return 0, nil, transport.ErrClosed
	}
}

// Close shuts down the DataChannel and PeerConnection.
func (l *Link) Close() error {
	l.cancel()
	return errors.Join(l.dc.Close(), l.pc.Close())
}

// CreateOffer generates an SDP offer.
func (l *Link) CreateOffer() (webrtc.SessionDescription, error) {
	return l.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (l *Link) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (l *Link) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (l *Link) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback for every gathered local candidate.
// A nil candidate marks the end of gathering.
func (l *Link) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	l.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote candidate received through signaling.
func (l *Link) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(candidate)
}
