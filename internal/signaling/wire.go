// Package signaling pairs two webrtc Links over a one-shot WebSocket. The
// host opens with a hello describing the session layer it will run on the
// link; a client that cannot speak it rejects before any ICE work starts.
package signaling

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/udpsess/internal/conn"
	"github.com/1ureka/udpsess/internal/protocol"
)

// protocolVersion identifies the session framing carried over the link.
const protocolVersion = 1

// ErrIncompatible means the two sides would not understand each other's
// session frames.
var ErrIncompatible = errors.New("signaling: incompatible peer")

type kind string

const (
	kindHello     kind = "hello"
	kindReject    kind = "reject"
	kindOffer     kind = "offer"
	kindAnswer    kind = "answer"
	kindCandidate kind = "candidate"
)

// envelope is one WebSocket message. Only the fields of its kind are set.
type envelope struct {
	Kind      kind                     `json:"kind"`
	Hello     *hello                   `json:"hello,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
}

// hello is the host's first message. The client adopts its timing so both
// ends agree on retransmission and liveness.
type hello struct {
	Version       int           `json:"version"`
	MaxPacket     int           `json:"max_packet"`
	AckWait       time.Duration `json:"ack_wait"`
	PingInterval  time.Duration `json:"ping_interval"`
	DeadPeerAfter time.Duration `json:"dead_peer_after"`
}

func helloFor(cfg conn.Config) *hello {
	return &hello{
		Version:       protocolVersion,
		MaxPacket:     protocol.MaxPacketSize,
		AckWait:       cfg.AckWait,
		PingInterval:  cfg.PingInterval,
		DeadPeerAfter: cfg.DeadPeerAfter,
	}
}

// check reports whether this build can run a session against the sender.
func (h *hello) check() error {
	switch {
	case h == nil:
		return fmt.Errorf("%w: hello missing", ErrIncompatible)
	case h.Version != protocolVersion:
		return fmt.Errorf("%w: protocol version %d, want %d", ErrIncompatible, h.Version, protocolVersion)
	case h.MaxPacket != protocol.MaxPacketSize:
		return fmt.Errorf("%w: max packet %d, want %d", ErrIncompatible, h.MaxPacket, protocol.MaxPacketSize)
	case h.PingInterval > 0 && h.DeadPeerAfter > 0 && h.DeadPeerAfter <= h.PingInterval:
		return fmt.Errorf("%w: dead peer threshold %v not above ping interval %v", ErrIncompatible, h.DeadPeerAfter, h.PingInterval)
	}
	return nil
}

func (h *hello) timing() conn.Config {
	return conn.Config{
		AckWait:       h.AckWait,
		PingInterval:  h.PingInterval,
		DeadPeerAfter: h.DeadPeerAfter,
	}
}
