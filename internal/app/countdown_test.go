package app

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestCountdownFiresExactlyOnce(t *testing.T) {
	var fired int32
	c := startCountdown(3, time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&fired) == 0 {
		select {
		case <-deadline:
			t.Fatalf("countdown never expired")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Give any extra tick a chance to misfire.
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expected exactly one expiry, got %d", got)
	}
	if c.Remaining() != 0 {
		t.Fatalf("expected zero remaining after expiry, got %d", c.Remaining())
	}
}

func TestCountdownStopPreventsExpiry(t *testing.T) {
	var fired int32
	c := startCountdown(5, time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	c.Stop()
	c.Stop() // idempotent

	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("stopped countdown must not expire")
	}
}
