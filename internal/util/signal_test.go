package util

import (
	"sync"
	"testing"
	"time"
)

func TestWaitForWakesOnBroadcast(t *testing.T) {
	var mu sync.Mutex
	sig := NewSignal()
	ready := false

	go func() {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		ready = true
		sig.Broadcast()
		mu.Unlock()
	}()

	mu.Lock()
	defer mu.Unlock()
	start := time.Now()
	if !WaitFor(&mu, sig, time.Second, func() bool { return ready }) {
		t.Fatal("predicate not satisfied")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("woke too late: %v", elapsed)
	}
}

func TestWaitForTimesOut(t *testing.T) {
	var mu sync.Mutex
	sig := NewSignal()

	mu.Lock()
	defer mu.Unlock()
	start := time.Now()
	if WaitFor(&mu, sig, 30*time.Millisecond, func() bool { return false }) {
		t.Fatal("predicate reported true")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("returned early: %v", elapsed)
	}
}

// A broadcast that does not satisfy the predicate must not end the wait.
func TestWaitForIgnoresSpuriousBroadcast(t *testing.T) {
	var mu sync.Mutex
	sig := NewSignal()
	n := 0

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			n++
			sig.Broadcast()
			mu.Unlock()
		}
	}()

	mu.Lock()
	defer mu.Unlock()
	if !WaitFor(&mu, sig, time.Second, func() bool { return n == 3 }) {
		t.Fatalf("predicate not satisfied, n=%d", n)
	}
}

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
	}
	for _, tc := range testCases {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
