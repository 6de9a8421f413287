package conn

import "github.com/1ureka/udpsess/internal/protocol"

// tick runs the liveness timer: a PING after PingInterval of mutual
// silence, and a local close after DeadPeerAfter without any received frame.
func (c *Conn) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessID == 0 {
		return
	}

	now := c.clock()
	if now.Sub(c.lastPingAt) >= c.cfg.PingInterval && now.Sub(c.lastRecvAt) >= c.cfg.PingInterval {
		// A transmission in progress keeps the link busy enough.
		if c.sendMu.TryLock() {
			c.writeControlLocked(protocol.FlagPing, 0)
			c.sendMu.Unlock()
			c.lastPingAt = now
		}
	}

	if now.Sub(c.lastRecvAt) >= c.cfg.DeadPeerAfter {
		c.closeLocked("no packet received within "+c.cfg.DeadPeerAfter.String(), true, true)
	}
}
