package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide frame/session counter.
var Stats = &stats{}

type stats struct {
	FramesSent     atomic.Int64 // every datagram handed to the transport
	FramesRecv     atomic.Int64 // every datagram read from the transport
	Retransmits    atomic.Int64 // DATA/SYN resent after an ack-wait interval elapsed
	Dropped        atomic.Int64 // frames discarded (stale, duplicate, slot busy, malformed)
	BytesSent      atomic.Int64 // acknowledged payload bytes
	BytesRecv      atomic.Int64 // payload bytes accepted in order
	SessionsOpened atomic.Int64
	SessionsClosed atomic.Int64
}

func (s *stats) AddFrameSent()  { s.FramesSent.Add(1) }
func (s *stats) AddFrameRecv()  { s.FramesRecv.Add(1) }
func (s *stats) AddRetransmit() { s.Retransmits.Add(1) }
func (s *stats) AddDrop()       { s.Dropped.Add(1) }
func (s *stats) AddSent(n int)  { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)  { s.BytesRecv.Add(int64(n)) }
func (s *stats) OpenSession()   { s.SessionsOpened.Add(1) }
func (s *stats) CloseSession()  { s.SessionsClosed.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval. It stops when ctx is cancelled. A non-positive interval
// disables reporting.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.sub(prev), interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	sent, recv, retx, drop, bSent, bRecv, opened, closed int64
}

func takeSnapshot() snapshot {
	return snapshot{
		sent:   Stats.FramesSent.Load(),
		recv:   Stats.FramesRecv.Load(),
		retx:   Stats.Retransmits.Load(),
		drop:   Stats.Dropped.Load(),
		bSent:  Stats.BytesSent.Load(),
		bRecv:  Stats.BytesRecv.Load(),
		opened: Stats.SessionsOpened.Load(),
		closed: Stats.SessionsClosed.Load(),
	}
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		sent:   s.sent - o.sent,
		recv:   s.recv - o.recv,
		retx:   s.retx - o.retx,
		drop:   s.drop - o.drop,
		bSent:  s.bSent - o.bSent,
		bRecv:  s.bRecv - o.bRecv,
		opened: s.opened - o.opened,
		closed: s.closed - o.closed,
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one reporting window for the logger.
func formatStats(d snapshot, interval time.Duration) string {
	secs := interval.Seconds()
	return fmt.Sprintf("Out: %s/s | In: %s/s | Frames: %d↑ %d↓ | Retx: %d | Drop: %d | Sess: %d↑ %d↓",
		formatBytes(float64(d.bSent)/secs),
		formatBytes(float64(d.bRecv)/secs),
		d.sent, d.recv, d.retx, d.drop, d.opened, d.closed,
	)
}
