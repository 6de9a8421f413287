package util

import (
	"sync"
	"time"
)

// Signal is a broadcast wake-up for goroutines waiting on a predicate over
// state guarded by an external lock. It is the timed counterpart of
// sync.Cond: Broadcast and reads of the current channel must happen with
// that lock held.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns a ready Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Broadcast wakes every current waiter. The caller must hold the lock.
func (s *Signal) Broadcast() {
	close(s.ch)
	s.ch = make(chan struct{})
}

// WaitFor blocks until pred returns true or d elapses, re-checking pred on
// every Broadcast. mu must be held on entry and is held on return; it is
// released while blocked. A non-positive d waits without a deadline. The
// result is the final value of pred.
func WaitFor(mu sync.Locker, s *Signal, d time.Duration, pred func() bool) bool {
	if pred() {
		return true
	}

	var expired <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	for !pred() {
		wake := s.ch
		mu.Unlock()
		select {
		case <-wake:
			mu.Lock()
		case <-expired:
			mu.Lock()
			return pred()
		}
	}
	return true
}
