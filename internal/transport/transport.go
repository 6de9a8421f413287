// Package transport provides the unreliable datagram layer the session
// protocol runs on: best-effort sends, bounded-wait receives and nothing
// more. Loss, duplication and reordering are the session layer's problem.
package transport

import (
	"errors"
	"net"
	"time"
)

var (
	// ErrNoData is returned by ReadFrom when nothing arrived within the wait.
	ErrNoData = errors.New("transport: no datagram within timeout")
	// ErrClosed is returned once the transport has been closed.
	ErrClosed = errors.New("transport: closed")
)

// Transport is a datagram endpoint.
//
// WriteTo sends one datagram without retrying. ReadFrom waits up to timeout
// for one datagram and copies it into p; it returns ErrNoData when the wait
// elapses and ErrClosed after Close. Datagrams longer than p are truncated.
type Transport interface {
	WriteTo(p []byte, addr net.Addr) error
	ReadFrom(p []byte, timeout time.Duration) (int, net.Addr, error)
	LocalAddr() net.Addr
	Close() error
}
