// ABOUTME: Bounded exponential backoff with full jitter for reconnect delays.
// ABOUTME: Delay caps grow per attempt up to a configured maximum.

package stream

import (
	"math/rand"
	"time"
)

// backoff computes reconnect delays. The cap for attempt n is
// base * 2^(n-1), bounded by max; the actual delay is drawn uniformly from
// [0, cap] (full jitter).
type backoff struct {
	base time.Duration
	max  time.Duration
	rand func(int64) int64
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max, rand: rand.Int63n}
}

// delay returns the jittered delay for a 1-based attempt number.
func (b *backoff) delay(attempt int) time.Duration {
	ceiling := b.ceiling(attempt)
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(b.rand(int64(ceiling) + 1))
}

// ceiling returns the un-jittered bound for a 1-based attempt number. The
// sequence of ceilings is non-decreasing and bounded by max.
func (b *backoff) ceiling(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	if d > b.max {
		return b.max
	}
	return d
}
