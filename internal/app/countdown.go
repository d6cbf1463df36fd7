package app

import (
	"sync"
	"sync/atomic"
	"time"
)

// Countdown is a per-session clock that decrements a remaining-seconds
// counter once per tick and fires its expiry callback exactly once when the
// counter reaches zero. The tick loop does no I/O; the
// callback is expected to hand off to the submission path and return fast.
// Stop is idempotent and must be called on session teardown so no interval
// keeps running after completion, cancellation, or error.
type Countdown struct {
	remaining int64
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// startCountdown launches the tick loop. The interval is one second in
// production; tests inject a shorter one to simulate expiry quickly.
func startCountdown(seconds int, interval time.Duration, onExpire func()) *Countdown {
	c := &Countdown{
		remaining: int64(seconds),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				if atomic.AddInt64(&c.remaining, -1) <= 0 {
					onExpire()
					return
				}
			}
		}
	}()
	return c
}

// Remaining returns the seconds left, never negative.
func (c *Countdown) Remaining() int {
	r := atomic.LoadInt64(&c.remaining)
	if r < 0 {
		return 0
	}
	return int(r)
}

// Stop cancels the countdown. Safe to call multiple times and after expiry.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
