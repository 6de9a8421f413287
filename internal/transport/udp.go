package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// UDP is a Transport over a UDP socket.
type UDP struct {
	pc net.PacketConn
}

// ListenUDP binds a UDP socket on addr ("127.0.0.1:0" for an ephemeral port).
func ListenUDP(addr string) (*UDP, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &UDP{pc: pc}, nil
}

// ResolveUDP parses a host:port destination.
func ResolveUDP(addr string) (net.Addr, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	return raddr, nil
}

func (u *UDP) WriteTo(p []byte, addr net.Addr) error {
	_, err := u.pc.WriteTo(p, addr)
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (u *UDP) ReadFrom(p []byte, timeout time.Duration) (int, net.Addr, error) {
	if err := u.pc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, nil, ErrClosed
		}
		return 0, nil, err
	}

	n, addr, err := u.pc.ReadFrom(p)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, nil, ErrNoData
		}
		if errors.Is(err, net.ErrClosed) {
			return 0, nil, ErrClosed
		}
		return n, addr, err
	}
	return n, addr, nil
}

func (u *UDP) LocalAddr() net.Addr { return u.pc.LocalAddr() }

func (u *UDP) Close() error { return u.pc.Close() }
