package signaling

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"

	"github.com/1ureka/udpsess/internal/conn"
	"github.com/1ureka/udpsess/internal/util"
	rtc "github.com/1ureka/udpsess/internal/webrtc"
)

// pinLength is the number of digits in the host's signaling PIN.
const pinLength = 6

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// listener admits exactly one WebSocket client that knows the PIN. Later
// clients are refused before the upgrade.
type listener struct {
	pin     string
	ln      net.Listener
	srv     *http.Server
	claimed atomic.Bool
	conns   chan *websocket.Conn
}

// listen serves /ws on addr (":0" picks a free port).
func listen(addr, pin string) (*listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}

	l := &listener{pin: pin, ln: ln, conns: make(chan *websocket.Conn, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", l.handle)
	l.srv = &http.Server{Handler: mux}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogDebug("WS server stopped: %v", err)
		}
	}()
	return l, nil
}

func (l *listener) port() int { return l.ln.Addr().(*net.TCPAddr).Port }

func (l *listener) handle(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("pin")), []byte(l.pin)) != 1 {
		http.Error(w, "invalid PIN", http.StatusUnauthorized)
		return
	}
	if !l.claimed.CompareAndSwap(false, true) {
		http.Error(w, "a client is already connected", http.StatusConflict)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.claimed.Store(false)
		util.LogDebug("WS upgrade failed: %v", err)
		return
	}
	l.conns <- ws
}

// accept blocks until the client arrives or ctx ends.
func (l *listener) accept(ctx context.Context) (*websocket.Conn, error) {
	select {
	case ws := <-l.conns:
		return ws, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close stops admitting clients. An accepted WebSocket stays open.
func (l *listener) close() { l.srv.Close() }

// EstablishAsHost publishes a PIN on wsAddr, waits for one client,
// announces timing as the session parameters and offers a Link. It returns
// once the Link's DataChannel is open; the WebSocket is closed either way.
func EstablishAsHost(ctx context.Context, wsAddr string, timing conn.Config) (*rtc.Link, error) {
	pin := generatePIN(pinLength)
	l, err := listen(wsAddr, pin)
	if err != nil {
		return nil, err
	}
	defer l.close()

	port := l.port()
	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\nURL  : ws://<host>:%d/ws?pin=%s", port, pin, port, pin))
	util.LogInfo("waiting for client...")

	return host(ctx, l, timing)
}

func host(ctx context.Context, l *listener, timing conn.Config) (*rtc.Link, error) {
	ws, err := l.accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	defer ws.Close()
	util.LogDebug("client connected from %s", ws.RemoteAddr())

	x := &exchange{ws: ws}
	if err := x.write(envelope{Kind: kindHello, Hello: helloFor(timing)}); err != nil {
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}

	link, err := rtc.NewLink(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Link: %w", err)
	}
	errCh := x.attach(link)

	// The host offers; the client answers from its read loop.
	if err := x.describe(true); err != nil {
		link.Close()
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}
	return x.await(ctx, errCh)
}

// generatePIN returns a random numeric PIN of the given length.
func generatePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
