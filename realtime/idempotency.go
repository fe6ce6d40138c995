package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/pulsehq/pulse/internal/slogging"
)

type cachedResult struct {
	result   CommandResult
	storedAt time.Time
}

// IdempotencyCache remembers command results keyed by (identity,
// idempotency key) so a retransmitted command returns the original result
// without re-executing the mutation. Its TTL is a separate knob from the
// replay window: the replay cache defends the envelope, this cache defends
// the operation.
type IdempotencyCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]cachedResult

	now func() time.Time
}

// NewIdempotencyCache creates a result cache with the given TTL
func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &IdempotencyCache{
		ttl:     ttl,
		entries: make(map[string]cachedResult),
		now:     time.Now,
	}
}

// Scoping by identity keeps one client's keys from colliding with another's.
func cacheKey(identity, idempotencyKey string) string {
	return identity + "\x00" + idempotencyKey
}

// Get returns the cached result for the key, if present and unexpired
func (c *IdempotencyCache) Get(identity, idempotencyKey string) (CommandResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey(identity, idempotencyKey)]
	if !ok || c.now().Sub(entry.storedAt) > c.ttl {
		return CommandResult{}, false
	}
	return entry.result, true
}

// Put stores a result under the key
func (c *IdempotencyCache) Put(identity, idempotencyKey string, result CommandResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(identity, idempotencyKey)] = cachedResult{result: result, storedAt: c.now()}
}

// SweepExpired evicts entries past the TTL and returns how many were removed
func (c *IdempotencyCache) SweepExpired() int {
	cutoff := c.now().Add(-c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.storedAt.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// RunSweeper periodically evicts expired entries until the context is
// cancelled.
func (c *IdempotencyCache) RunSweeper(ctx context.Context, interval time.Duration) {
	logger := slogging.Get()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.SweepExpired(); n > 0 {
				logger.Debug("Idempotency cache sweep removed=%d", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
