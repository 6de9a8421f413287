package conn

import (
	"errors"

	"github.com/1ureka/udpsess/internal/protocol"
	"github.com/1ureka/udpsess/internal/transport"
	"github.com/1ureka/udpsess/internal/util"
)

// pump is the network-side loop: wait up to half a ping interval for a
// datagram, dispatch it, and run the liveness timer whenever the wait comes
// back empty or a full poll interval has passed without a tick.
func (c *Conn) pump() error {
	// One spare byte detects datagrams over the limit.
	buf := make([]byte, protocol.MaxPacketSize+1)
	poll := c.cfg.pollInterval()
	lastTick := c.clock()

	for {
		select {
		case <-c.death.Dying():
			return nil
		default:
		}

		n, from, err := c.tr.ReadFrom(buf, poll)
		switch {
		case errors.Is(err, transport.ErrNoData):
		case errors.Is(err, transport.ErrClosed):
			util.LogDebug("transport closed, packet pump exiting")
			return nil
		case err != nil:
			util.LogDebug("read failed: %v", err)
		default:
			c.handleDatagram(buf[:n], from)
			if c.clock().Sub(lastTick) < poll {
				continue
			}
		}

		c.tick()
		lastTick = c.clock()
	}
}
