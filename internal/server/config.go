package server

import "time"

// Config holds the acceptor's timing and admission limits.
type Config struct {
	// AckWait is the retransmission interval for Peer.Send.
	AckWait time.Duration
	// DeadPeerAfter is the receive silence after which a peer is dropped.
	DeadPeerAfter time.Duration
	// ReapInterval is how often silent peers are looked for.
	ReapInterval time.Duration

	// AcceptRate limits new sessions per second; zero disables the limit.
	AcceptRate float64
	// AcceptBurst is the number of SYNs admitted back to back.
	AcceptBurst int
	// MaxPeers caps concurrent sessions; zero means no cap.
	MaxPeers int
}

// DefaultConfig mirrors the client's timing: a 200ms ack wait and peers
// dropped after 3s of silence, checked every second.
func DefaultConfig() Config {
	return Config{
		AckWait:       200 * time.Millisecond,
		DeadPeerAfter: 3 * time.Second,
		ReapInterval:  time.Second,
		AcceptRate:    50,
		AcceptBurst:   10,
		MaxPeers:      1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AckWait <= 0 {
		c.AckWait = def.AckWait
	}
	if c.DeadPeerAfter <= 0 {
		c.DeadPeerAfter = def.DeadPeerAfter
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = def.ReapInterval
	}
	if c.AcceptBurst <= 0 {
		c.AcceptBurst = 1
	}
	return c
}
