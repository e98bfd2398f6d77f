package quotagate

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFrozenLimiter returns a limiter whose clock is the returned pointer.
func newFrozenLimiter(capacity int64, perSecond float64) (*Limiter, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(capacity, perSecond)
	l.now = func() time.Time { return now }
	l.lastRefill = now
	return l, &now
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	l, now := newFrozenLimiter(10, 1)

	for i := 0; i < 10; i++ {
		require.True(t, l.TryConsume(1), "burst call %d", i)
	}
	assert.False(t, l.TryConsume(1), "empty bucket must deny")

	// 5 seconds at 1 token/sec buys exactly 5 more admissions.
	*now = now.Add(5 * time.Second)
	for i := 0; i < 5; i++ {
		assert.True(t, l.TryConsume(1), "refilled call %d", i)
	}
	assert.False(t, l.TryConsume(1))
}

func TestLimiter_RefillCapsAtCapacity(t *testing.T) {
	l, now := newFrozenLimiter(5, 10)

	require.True(t, l.TryConsume(5))

	*now = now.Add(time.Hour)
	assert.True(t, l.TryConsume(5), "a long idle period refills to capacity")
	assert.False(t, l.TryConsume(1), "but never beyond it")
}

func TestLimiter_DenyLeavesTokensUntouched(t *testing.T) {
	l, _ := newFrozenLimiter(5, 0)

	require.True(t, l.TryConsume(3))
	require.False(t, l.TryConsume(3))
	assert.True(t, l.TryConsume(2), "the denied attempt must not have deducted anything")
}

func TestLimiter_ConcurrentNeverOverAdmits(t *testing.T) {
	l := NewLimiter(100, 0) // no refill: exactly 100 tokens exist

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if l.TryConsume(1) {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), admitted.Load())
}
