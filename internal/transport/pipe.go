package transport

import (
	"net"
	"sync"
	"time"
)

// Action decides the fate of one datagram written to a PipeEnd.
type Action int

const (
	Deliver Action = iota
	Drop
	Duplicate
)

// pipeQueueSize bounds each end's inbox; writes to a full inbox are lost,
// as they would be on a real socket.
const pipeQueueSize = 256

// PipeAddr names one end of an in-memory pipe.
type PipeAddr string

func (a PipeAddr) Network() string { return "pipe" }
func (a PipeAddr) String() string  { return string(a) }

type datagram struct {
	data []byte
	from net.Addr
}

// PipeEnd is one side of an in-memory datagram link. Two linked ends
// simulate a lossy network for tests and local loopback runs: a filter set
// on an end sees every datagram that end writes and may drop or duplicate it.
type PipeEnd struct {
	addr  PipeAddr
	peer  *PipeEnd
	inbox chan datagram

	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	filter func([]byte) Action
}

// Pipe creates a linked pair of ends named "pipe-a" and "pipe-b".
func Pipe() (a, b *PipeEnd) {
	a = &PipeEnd{addr: "pipe-a", inbox: make(chan datagram, pipeQueueSize), done: make(chan struct{})}
	b = &PipeEnd{addr: "pipe-b", inbox: make(chan datagram, pipeQueueSize), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// SetFilter installs fn to judge each outgoing datagram. nil delivers all.
func (p *PipeEnd) SetFilter(fn func([]byte) Action) {
	p.mu.Lock()
	p.filter = fn
	p.mu.Unlock()
}

// WriteTo delivers to the linked end; addr is ignored.
func (p *PipeEnd) WriteTo(b []byte, _ net.Addr) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	p.mu.Lock()
	fn := p.filter
	p.mu.Unlock()

	copies := 1
	if fn != nil {
		switch fn(b) {
		case Drop:
			return nil
		case Duplicate:
			copies = 2
		}
	}

	for range copies {
		data := make([]byte, len(b))
		copy(data, b)
		select {
		case p.peer.inbox <- datagram{data: data, from: p.addr}:
		default:
		}
	}
	return nil
}

func (p *PipeEnd) ReadFrom(b []byte, timeout time.Duration) (int, net.Addr, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-p.inbox:
		return copy(b, d.data), d.from, nil
	case <-timer.C:
		return 0, nil, ErrNoData
	case <-p.done:
		return 0, nil, ErrClosed
	}
}

func (p *PipeEnd) LocalAddr() net.Addr { return p.addr }

// RemoteAddr is the address of the linked end.
func (p *PipeEnd) RemoteAddr() net.Addr { return p.peer.addr }

// Close is safe to call multiple times.
func (p *PipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
