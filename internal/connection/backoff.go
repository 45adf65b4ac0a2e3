package connection

import "time"

// backoff computes reconnect delays: base * 2^(attempt-1), capped at max
// when max > 0, scaled into [0.5, 1.5) when jitter is set.
type backoff struct {
	base   time.Duration
	max    time.Duration
	jitter bool
	rand   func() float64 // [0, 1)
}

func (b backoff) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.base
	for i := 1; i < attempt; i++ {
		if b.max > 0 && d >= b.max {
			break
		}
		// Stop doubling before overflow
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if b.max > 0 && d > b.max {
		d = b.max
	}

	if b.jitter && b.rand != nil {
		d = time.Duration(float64(d) * (0.5 + b.rand()))
	}
	return d
}
