package quotagate

import (
	"math"
	"sync"
	"time"
)

// Limiter is a token bucket guarding a single quota key.
//
// The bucket starts full and refills continuously at perSecond tokens per
// second up to capacity. A consume attempt either succeeds immediately or
// is denied; there is no queuing or waiting.
type Limiter struct {
	mu         sync.Mutex
	capacity   int64
	perSecond  float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time // swapped out in tests
}

// NewLimiter creates a full bucket with the given capacity and refill rate.
func NewLimiter(capacity int64, perSecond float64) *Limiter {
	l := &Limiter{
		capacity:  capacity,
		perSecond: perSecond,
		tokens:    float64(capacity),
		now:       time.Now,
	}
	l.lastRefill = l.now()
	return l
}

// TryConsume attempts to take n tokens. It refills the bucket for the
// time elapsed since the last attempt, then either deducts n and returns
// true, or leaves the bucket untouched and returns false.
func (l *Limiter) TryConsume(n int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

// refill advances the bucket to now. Callers must hold mu.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens = math.Min(float64(l.capacity), l.tokens+l.perSecond*elapsed)
	l.lastRefill = now
}
