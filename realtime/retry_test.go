package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse/services"
)

func TestCallSucceedsFirstAttempt(t *testing.T) {
	caller := NewCaller(DefaultCallerConfig())

	calls := 0
	err := caller.Call(context.Background(), "test op", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallRetriesTransientError(t *testing.T) {
	caller := NewCaller(CallerConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Deadline:    time.Second,
	})

	calls := 0
	err := caller.Call(context.Background(), "test op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCallDoesNotRetryDomainError(t *testing.T) {
	caller := NewCaller(CallerConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Deadline:    time.Second,
	})

	calls := 0
	domainErr := services.NotFoundError("project")
	err := caller.Call(context.Background(), "test op", func(context.Context) error {
		calls++
		return domainErr
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var de *services.DomainError
	assert.ErrorAs(t, err, &de)
}

func TestCallGivesUpAfterMaxAttempts(t *testing.T) {
	caller := NewCaller(CallerConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Deadline:    time.Second,
	})

	calls := 0
	err := caller.Call(context.Background(), "test op", func(context.Context) error {
		calls++
		return errors.New("connection reset by peer")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestCallDeadlineYieldsTimeoutError(t *testing.T) {
	caller := NewCaller(CallerConfig{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		Deadline:    30 * time.Millisecond,
	})

	err := caller.Call(context.Background(), "slow op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)

	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "slow op", timeoutErr.Op)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(services.ConflictError("duplicate key")))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.False(t, IsRetryableError(errors.New("syntax error at or near")))

	assert.True(t, IsRetryableError(errors.New("connection refused")))
	assert.True(t, IsRetryableError(errors.New("dial tcp: i/o timeout")))
	assert.True(t, IsRetryableError(errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")))
	assert.True(t, IsRetryableError(errors.New("unexpected EOF")))
}
