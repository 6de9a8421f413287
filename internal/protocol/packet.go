// Package protocol defines the wire frame shared by both ends of a session:
// a packed 4-byte header followed by an optional payload whose length is the
// datagram length minus the header.
package protocol

import "strings"

// Frame flags. A frame may carry more than one; receivers test each mask.
const (
	FlagData   uint8 = 1 << 0 // payload-bearing frame
	FlagAck    uint8 = 1 << 1 // acknowledges sequence id
	FlagSyn    uint8 = 1 << 2 // handshake request
	FlagSynAck uint8 = 1 << 3 // handshake reply carrying the new session id
	FlagRst    uint8 = 1 << 4 // session reset
	FlagPing   uint8 = 1 << 5 // keepalive
)

// HeaderSize is the fixed header size: SessionID(2) + SequenceID(1) + Flags(1).
const HeaderSize = 4

// MaxPacketSize is the largest datagram either side sends or accepts.
const MaxPacketSize = 1200

// MaxPayloadSize is the largest payload that fits into one datagram.
const MaxPayloadSize = MaxPacketSize - HeaderSize

// Header is the fixed part of every frame.
type Header struct {
	SessionID  uint16 // 0 during the handshake
	SequenceID uint8  // per-direction, wraps at 256
	Flags      uint8
}

// Has reports whether every bit of mask is set.
func (h Header) Has(mask uint8) bool {
	return h.Flags&mask == mask
}

var flagNames = []struct {
	mask uint8
	name string
}{
	{FlagData, "DATA"},
	{FlagAck, "ACK"},
	{FlagSyn, "SYN"},
	{FlagSynAck, "SYNACK"},
	{FlagRst, "RST"},
	{FlagPing, "PING"},
}

// FlagString renders a flag set as space-separated names, e.g. "DATA ACK".
func FlagString(flags uint8) string {
	var names []string
	for _, f := range flagNames {
		if flags&f.mask != 0 {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, " ")
}

// SeqDiff returns a-b modulo 256. A value of 1 means a directly follows b.
func SeqDiff(a, b uint8) uint8 {
	return a - b
}
