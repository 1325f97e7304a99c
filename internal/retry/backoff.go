package retry

import (
	"math"
	"math/rand"
	"time"
)

// Delay computes the deterministic backoff for attempt (1-based: attempt=1
// is the first retry delay), then applies ±10% uniform jitter when
// jitter is true, clamped at >= 0. Per spec §4.6.
func Delay(attempt int, backoffMs int64, multiplier float64, maxBackoffMs int64, jitter bool) time.Duration {
	base := float64(backoffMs) * math.Pow(multiplier, float64(attempt-1))
	if base > float64(maxBackoffMs) {
		base = float64(maxBackoffMs)
	}
	if jitter {
		noise := (rand.Float64()*2 - 1) * 0.1 * base
		base += noise
		if base < 0 {
			base = 0
		}
	}
	return time.Duration(base) * time.Millisecond
}
