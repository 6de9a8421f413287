package conn

import "time"

// Config holds the session timing.
type Config struct {
	// AckWait is the retransmission interval for DATA and SYN frames,
	// independent of the caller's overall timeout.
	AckWait time.Duration
	// PingInterval is the idle time after which a keepalive is sent. The
	// packet pump polls the transport for half of it.
	PingInterval time.Duration
	// DeadPeerAfter is the receive silence after which the session is
	// closed locally.
	DeadPeerAfter time.Duration
}

// DefaultConfig returns the reference timing: 200ms ack wait, 1s ping and a
// dead peer after three missed pings.
func DefaultConfig() Config {
	return Config{
		AckWait:       200 * time.Millisecond,
		PingInterval:  time.Second,
		DeadPeerAfter: 3 * time.Second,
	}
}

// pollInterval is how long the pump waits for a datagram before it runs
// the liveness timer.
func (c Config) pollInterval() time.Duration {
	return c.PingInterval / 2
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AckWait <= 0 {
		c.AckWait = def.AckWait
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.DeadPeerAfter <= 0 {
		c.DeadPeerAfter = 3 * c.PingInterval
	}
	return c
}
