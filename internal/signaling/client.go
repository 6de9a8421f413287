package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/1ureka/udpsess/internal/conn"
	"github.com/1ureka/udpsess/internal/util"
	rtc "github.com/1ureka/udpsess/internal/webrtc"
)

// EstablishAsClient dials the host at wsURL (which carries the PIN),
// checks its hello and answers its offer. It returns the open Link and the
// host's session timing, which the client must run with.
func EstablishAsClient(ctx context.Context, wsURL string) (*rtc.Link, conn.Config, error) {
	util.LogInfo("connecting to host...")
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, conn.Config{}, fmt.Errorf("failed to connect to WS server: %s", resp.Status)
		}
		return nil, conn.Config{}, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	defer ws.Close()
	// Unblocks the hello read below when ctx ends first.
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	x := &exchange{ws: ws}
	first, err := x.read()
	if err != nil {
		if ctx.Err() != nil {
			return nil, conn.Config{}, ctx.Err()
		}
		return nil, conn.Config{}, err
	}
	if first.Kind != kindHello {
		return nil, conn.Config{}, fmt.Errorf("%w: expected hello, got %q", ErrIncompatible, first.Kind)
	}
	if err := first.Hello.check(); err != nil {
		if werr := x.write(envelope{Kind: kindReject, Reason: err.Error()}); werr != nil {
			util.LogDebug("reject not sent: %v", werr)
		}
		return nil, conn.Config{}, err
	}
	timing := first.Hello.timing()
	util.LogDebug("host speaks protocol %d, ack wait %v", first.Hello.Version, timing.AckWait)

	link, err := rtc.NewLink(ctx)
	if err != nil {
		return nil, conn.Config{}, fmt.Errorf("failed to create Link: %w", err)
	}
	link, err = x.await(ctx, x.attach(link))
	if err != nil {
		return nil, conn.Config{}, err
	}
	return link, timing, nil
}
