// Package realtime implements the websocket core: connection registry,
// message authentication, rate limiting, command dispatch, batch execution
// and event fan-out.
package realtime

import (
	"errors"
	"fmt"
	"time"
)

// Message authentication failures. These are per-message errors: the offending
// frame is rejected with an error response but the connection stays open.
var (
	// ErrMessageExpired indicates the envelope timestamp falls outside the
	// allowed time window
	ErrMessageExpired = errors.New("message timestamp outside allowed window")
	// ErrReplayAttack indicates the envelope id was already processed
	ErrReplayAttack = errors.New("message already processed")
	// ErrInvalidSignature indicates the envelope signature does not match
	ErrInvalidSignature = errors.New("message signature mismatch")
)

// Error codes surfaced in command responses
const (
	CodeThrottled  = "THROTTLED"
	CodeValidation = "VALIDATION"
	CodeTimeout    = "TIMEOUT"
	CodeMalformed  = "MALFORMED"
	CodeSecurity   = "SECURITY"
	CodeBatchLimit = "BATCH_LIMIT"
	CodeInternal   = "INTERNAL"
)

// ThrottleError rejects a command because the sender's token bucket is empty.
// RetryAfter tells the client when one token will be available again.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// ValidationError rejects a command whose data fails structural validation
// before any business-service call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TimeoutError reports that a business-service call exhausted its deadline,
// including time spent in retries.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Elapsed)
}
