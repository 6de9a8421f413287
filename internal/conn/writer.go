package conn

import (
	"errors"
	"io"
	"time"

	"github.com/1ureka/udpsess/internal/protocol"
)

// ErrWriterDone is returned by a Writer used after Flush or Discard.
var ErrWriterDone = errors.New("conn: writer already flushed or discarded")

// Writer assembles one DATA frame in place across several Write calls.
// It holds the Conn's send lock from BeginWrite until Flush or Discard, so
// no other Send can interleave.
type Writer struct {
	c    *Conn
	pos  int
	done bool
}

// BeginWrite takes the send lock and returns an empty Writer. Exactly one
// of Flush or Discard must follow.
func (c *Conn) BeginWrite() *Writer {
	c.sendMu.Lock()
	return &Writer{c: c, pos: protocol.HeaderSize}
}

// Write appends p to the pending frame. Bytes past the frame's capacity are
// dropped; the count of accepted bytes is returned with io.ErrShortWrite.
func (w *Writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, ErrWriterDone
	}
	n := copy(w.c.out[w.pos:], p)
	w.pos += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Len returns the number of payload bytes accumulated so far.
func (w *Writer) Len() int {
	return w.pos - protocol.HeaderSize
}

// Flush sends the accumulated payload exactly like Send and releases the
// send lock.
func (w *Writer) Flush(timeout time.Duration) error {
	if w.done {
		return ErrWriterDone
	}
	w.done = true
	defer w.c.sendMu.Unlock()
	return w.c.sendBuffered(w.Len(), timeout)
}

// Discard releases the send lock without sending.
func (w *Writer) Discard() {
	if w.done {
		return
	}
	w.done = true
	w.c.sendMu.Unlock()
}
