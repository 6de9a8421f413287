package protocol

import "errors"

// Session-level results surfaced to callers of send/recv/connect.
var (
	// ErrTimeout means no progress before the caller's deadline. It is fatal
	// for Connect and Send, and a soft retry signal for Recv.
	ErrTimeout = errors.New("udpsess: timeout")
	// ErrNoSpace means the caller's buffer is smaller than the buffered
	// payload. Nothing was consumed.
	ErrNoSpace = errors.New("udpsess: buffer too small")
	// ErrConnectionLost means the session was torn down while, or before,
	// the caller was waiting. A new Connect is required.
	ErrConnectionLost = errors.New("udpsess: connection lost")
	// ErrInvalidState means no session has been established.
	ErrInvalidState = errors.New("udpsess: no active session")
)

// Codec errors.
var (
	ErrShortFrame      = errors.New("protocol: frame shorter than header")
	ErrFrameTooLarge   = errors.New("protocol: frame too large")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)
