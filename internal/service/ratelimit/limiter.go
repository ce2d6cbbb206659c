// Package ratelimit provides per-source token buckets for webhook
// intake. Noisy alert sources get throttled without affecting others.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter keys token buckets by alert source. All buckets share one
// capacity and refill rate, fixed at construction.
type Limiter struct {
	capacity  float64
	refillPer float64 // tokens per second

	mu  sync.Mutex
	m   map[string]*bucket
	now func() time.Time
}

func New(capacity, refillPerSec float64) *Limiter {
	return &Limiter{
		capacity:  capacity,
		refillPer: refillPerSec,
		m:         make(map[string]*bucket),
		now:       time.Now,
	}
}

// Allow consumes one token for the source if available.
func (l *Limiter) Allow(source string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[source]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[source] = b
	}

	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.refillPer
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// SetClock replaces the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}
