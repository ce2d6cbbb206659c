package queue

import (
	"math/rand"
	"time"
)

// Backoff returns the delay before retry number attempt (1-based):
// exponential on a base, capped, with half-interval jitter so synchronized
// retries spread out.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
