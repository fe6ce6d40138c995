package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/pulsehq/pulse/internal/slogging"
)

// LimiterConfig holds token bucket parameters
type LimiterConfig struct {
	// Capacity is the burst size of each bucket
	Capacity float64
	// RefillRate is tokens added per second
	RefillRate float64
	// IdleTTL is how long an untouched bucket survives before the sweeper
	// drops it
	IdleTTL time.Duration
}

type bucket struct {
	tokens   float64
	refilled time.Time // last refill computation
	touched  time.Time // last Acquire, for idle GC
}

// Limiter rate-limits commands per identity with a continuously refilling
// token bucket. Buckets are created lazily at full capacity, so a new
// identity gets its full burst immediately.
type Limiter struct {
	capacity float64
	rate     float64
	idleTTL  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time
}

// NewLimiter creates a per-identity token bucket limiter
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}
	return &Limiter{
		capacity: cfg.Capacity,
		rate:     cfg.RefillRate,
		idleTTL:  cfg.IdleTTL,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// Acquire takes one token from the identity's bucket. When the bucket is
// empty it reports the wait until one token will be available. Rejection
// never affects the connection itself.
func (l *Limiter) Acquire(identity string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{tokens: l.capacity, refilled: now}
		l.buckets[identity] = b
	}

	elapsed := now.Sub(b.refilled).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.rate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.refilled = now
	}
	b.touched = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	deficit := 1 - b.tokens
	retryAfter := time.Duration(deficit / l.rate * float64(time.Second))
	return false, retryAfter
}

// SweepIdle drops buckets that have not been touched within the idle TTL and
// returns how many were removed. A dropped bucket reappears full on next use,
// which is the same as a fully refilled one.
func (l *Limiter) SweepIdle() int {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for identity, b := range l.buckets {
		if b.touched.Before(cutoff) {
			delete(l.buckets, identity)
			removed++
		}
	}
	return removed
}

// RunSweeper periodically drops idle buckets until the context is cancelled
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) {
	logger := slogging.Get()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.SweepIdle(); n > 0 {
				logger.Debug("Rate limiter sweep removed=%d", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
