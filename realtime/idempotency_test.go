package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyCachePutGet(t *testing.T) {
	cache := NewIdempotencyCache(5 * time.Minute)

	result := successResult(Command{Type: CmdPing, IdempotencyKey: "key-1"}, map[string]any{"message": "pong"})
	cache.Put("user-1", "key-1", result)

	got, ok := cache.Get("user-1", "key-1")
	require.True(t, ok)
	assert.Equal(t, result, got)

	_, ok = cache.Get("user-1", "key-2")
	assert.False(t, ok)
}

func TestIdempotencyCacheScopedByIdentity(t *testing.T) {
	cache := NewIdempotencyCache(5 * time.Minute)

	cache.Put("user-1", "key-1", successResult(Command{Type: CmdPing}, nil))

	_, ok := cache.Get("user-2", "key-1")
	assert.False(t, ok)
}

func TestIdempotencyCacheExpiry(t *testing.T) {
	cache := NewIdempotencyCache(5 * time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Put("user-1", "key-1", successResult(Command{Type: CmdPing}, nil))

	now = now.Add(6 * time.Minute)
	_, ok := cache.Get("user-1", "key-1")
	assert.False(t, ok)

	assert.Equal(t, 1, cache.SweepExpired())
	assert.Equal(t, 0, cache.SweepExpired())
}
