package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAdmitsExactlyCapacity(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{Capacity: 5, RefillRate: 1})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		ok, _ := limiter.Acquire("user-1")
		require.True(t, ok, "acquire %d should succeed", i)
	}

	ok, retryAfter := limiter.Acquire("user-1")
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestAcquireAdmitsOneMoreAfterRefill(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{Capacity: 3, RefillRate: 1})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, _ := limiter.Acquire("user-1")
		require.True(t, ok)
	}
	ok, _ := limiter.Acquire("user-1")
	require.False(t, ok)

	// One refill interval later exactly one token is back
	now = now.Add(time.Second)
	ok, _ = limiter.Acquire("user-1")
	assert.True(t, ok)
	ok, _ = limiter.Acquire("user-1")
	assert.False(t, ok)
}

func TestAcquireNewIdentityStartsFull(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{Capacity: 2, RefillRate: 0.5})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	// Drain one identity, the other still has its full burst
	ok, _ := limiter.Acquire("user-1")
	require.True(t, ok)
	ok, _ = limiter.Acquire("user-1")
	require.True(t, ok)
	ok, _ = limiter.Acquire("user-1")
	require.False(t, ok)

	ok, _ = limiter.Acquire("user-2")
	assert.True(t, ok)
	ok, _ = limiter.Acquire("user-2")
	assert.True(t, ok)
}

func TestAcquireRetryAfterCoversDeficit(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{Capacity: 1, RefillRate: 2})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	ok, _ := limiter.Acquire("user-1")
	require.True(t, ok)

	ok, retryAfter := limiter.Acquire("user-1")
	require.False(t, ok)
	// At 2 tokens/sec a full token is 500ms away
	assert.InDelta(t, float64(500*time.Millisecond), float64(retryAfter), float64(10*time.Millisecond))

	now = now.Add(retryAfter)
	ok, _ = limiter.Acquire("user-1")
	assert.True(t, ok)
}

func TestSweepIdleDropsUntouchedBuckets(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{Capacity: 2, RefillRate: 1, IdleTTL: time.Minute})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Acquire("user-1")
	limiter.Acquire("user-2")

	now = now.Add(30 * time.Second)
	limiter.Acquire("user-2")

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, limiter.SweepIdle())

	// Dropped bucket comes back at full capacity
	ok, _ := limiter.Acquire("user-1")
	assert.True(t, ok)
	ok, _ = limiter.Acquire("user-1")
	assert.True(t, ok)
}
