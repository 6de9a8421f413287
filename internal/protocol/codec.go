package protocol

import (
	"encoding/binary"
	"fmt"
)

// PutHeader writes h into the first HeaderSize bytes of buf, which must be
// at least HeaderSize long.
func PutHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint16(buf[0:2], h.SessionID)
	buf[2] = h.SequenceID
	buf[3] = h.Flags
}

// ParseHeader reads the header at the front of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortFrame, len(buf), HeaderSize)
	}
	return Header{
		SessionID:  binary.BigEndian.Uint16(buf[0:2]),
		SequenceID: buf[2],
		Flags:      buf[3],
	}, nil
}

// Encode serializes a header and payload into a newly allocated datagram.
func Encode(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	buf := make([]byte, HeaderSize+len(payload))
	PutHeader(buf, h)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode splits a datagram into its header and payload. The payload aliases
// data; callers that keep it past the next read must copy it.
func Decode(data []byte) (Header, []byte, error) {
	if len(data) > MaxPacketSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(data), MaxPacketSize)
	}
	h, err := ParseHeader(data)
	if err != nil {
		return Header{}, nil, err
	}
	return h, data[HeaderSize:], nil
}
