package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/udpsess/internal/util"
	rtc "github.com/1ureka/udpsess/internal/webrtc"
)

// exchange drives SDP and trickle ICE for one Link over one WebSocket.
// Writes come from both the caller and pion's candidate callback.
type exchange struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	link *rtc.Link
}

func (x *exchange) write(env envelope) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ws.WriteJSON(env)
}

func (x *exchange) read() (envelope, error) {
	var env envelope
	if err := x.ws.ReadJSON(&env); err != nil {
		return envelope{}, fmt.Errorf("read signaling message: %w", err)
	}
	return env, nil
}

// attach binds link, forwards its candidates and starts reading. The
// returned channel yields the error that ended the read loop.
func (x *exchange) attach(link *rtc.Link) <-chan error {
	x.link = link
	link.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		// A lost candidate only narrows the choice of paths.
		if err := x.write(envelope{Kind: kindCandidate, Candidate: &init}); err != nil {
			util.LogDebug("candidate not sent: %v", err)
		}
	})

	errCh := make(chan error, 1)
	go func() { errCh <- x.serve() }()
	return errCh
}

// describe creates the local offer or answer, applies it and sends it.
func (x *exchange) describe(offer bool) error {
	create, k := x.link.CreateAnswer, kindAnswer
	if offer {
		create, k = x.link.CreateOffer, kindOffer
	}
	sdp, err := create()
	if err != nil {
		return fmt.Errorf("create %s: %w", k, err)
	}
	if err := x.link.SetLocalDescription(sdp); err != nil {
		return fmt.Errorf("apply local %s: %w", k, err)
	}
	return x.write(envelope{Kind: k, SDP: sdp.SDP})
}

// serve applies remote messages until the WebSocket fails or the peer
// rejects the session.
func (x *exchange) serve() error {
	for {
		env, err := x.read()
		if err != nil {
			return err
		}

		switch env.Kind {
		case kindOffer:
			if err := x.link.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: env.SDP}); err != nil {
				return fmt.Errorf("apply remote offer: %w", err)
			}
			if err := x.describe(false); err != nil {
				return err
			}
		case kindAnswer:
			if err := x.link.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: env.SDP}); err != nil {
				return fmt.Errorf("apply remote answer: %w", err)
			}
		case kindCandidate:
			if env.Candidate == nil {
				continue
			}
			// Candidates that beat the remote description fail; others follow.
			if err := x.link.AddICECandidate(*env.Candidate); err != nil {
				util.LogDebug("AddICECandidate failed: %v", err)
			}
		case kindReject:
			return fmt.Errorf("%w: peer rejected the session: %s", ErrIncompatible, env.Reason)
		default:
			util.LogDebug("ignoring signaling message of kind %q", env.Kind)
		}
	}
}

// await returns the link once its DataChannel opens. On failure the link
// is closed.
func (x *exchange) await(ctx context.Context, errCh <-chan error) (*rtc.Link, error) {
	select {
	case <-x.link.Ready():
		util.LogDebug("WebRTC DataChannel established, closing WS")
		return x.link, nil
	case err := <-errCh:
		x.link.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)
	case <-ctx.Done():
		x.link.Close()
		return nil, ctx.Err()
	}
}
