package clock

import (
	"sync"
	"time"
)

// Stop cancels a scheduled callback. It reports whether the call prevented
// the callback from running.
type Stop func() bool

// Clock is the scheduling port used by the connection package.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc runs fn once, d from now, on a goroutine of the clock's choosing.
	AfterFunc(d time.Duration, fn func()) Stop
}

// Real is a Clock backed by the time package.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, fn func()) Stop {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// Every runs fn every d until the returned Stop is called. The next tick is
// scheduled only after fn returns, so ticks never overlap.
func Every(c Clock, d time.Duration, fn func()) Stop {
	var (
		mu      sync.Mutex
		stopped bool
		current Stop
	)

	var tick func()
	tick = func() {
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		mu.Unlock()

		fn()

		mu.Lock()
		if !stopped {
			current = c.AfterFunc(d, tick)
		}
		mu.Unlock()
	}

	mu.Lock()
	current = c.AfterFunc(d, tick)
	mu.Unlock()

	return func() bool {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return false
		}
		stopped = true
		return current()
	}
}
