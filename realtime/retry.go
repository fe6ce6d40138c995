package realtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/pulsehq/pulse/internal/slogging"
	"github.com/pulsehq/pulse/services"
)

// CallerConfig holds configuration for retry behavior
type CallerConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Deadline    time.Duration
}

// DefaultCallerConfig returns reasonable defaults for business-service calls
func DefaultCallerConfig() CallerConfig {
	return CallerConfig{
		MaxAttempts: 3,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Deadline:    30 * time.Second,
	}
}

// Caller wraps business-service calls with retry and a total deadline. Only
// transient failures are retried; business-rule errors come back immediately.
// Mutations are safe to retry here because the dispatcher deduplicates them
// by idempotency key before they reach the service.
type Caller struct {
	cfg CallerConfig
}

// NewCaller creates a retry/timeout wrapper
func NewCaller(cfg CallerConfig) *Caller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Second
	}
	return &Caller{cfg: cfg}
}

// Call executes fn with retries and a total deadline covering all attempts.
// Exceeding the deadline yields a TimeoutError regardless of attempts left.
func (c *Caller) Call(ctx context.Context, name string, fn func(context.Context) error) error {
	logger := slogging.Get()
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff with cap and jitter
			delay := c.cfg.BaseBackoff * time.Duration(1<<uint(attempt-1))
			if delay > c.cfg.MaxBackoff {
				delay = c.cfg.MaxBackoff
			}
			delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
			logger.Debug("Retrying %s in %v (attempt %d/%d)", name, delay, attempt+1, c.cfg.MaxAttempts)

			select {
			case <-ctx.Done():
				return &TimeoutError{Op: name, Elapsed: time.Since(started)}
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Op: name, Elapsed: time.Since(started)}
		}
		if !IsRetryableError(err) {
			return err
		}
		lastErr = err
		logger.Warn("%s failed with retryable error (attempt %d/%d): %v", name, attempt+1, c.cfg.MaxAttempts, err)
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, c.cfg.MaxAttempts, lastErr)
}

// IsRetryableError determines if an error should trigger a retry. Business
// errors and cancellations never retry; common connection and transient
// database failures do.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection refused",
		"connection reset by peer",
		"connection reset",
		"broken pipe",
		"eof",
		"i/o timeout",
		"no connection available",
		"connection timed out",
		"unexpected eof",
		"server closed",
		"connection is shut down",
		// PostgreSQL-specific transient errors
		"could not serialize access",
		"deadlock detected",
		"the database system is starting up",
		"the database system is shutting down",
		"terminating connection due to administrator command",
		"connection unexpectedly closed",
		"too many clients",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
