package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Defaults(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 2, p.MaxAttempts)
	assert.Zero(t, p.Delay)

	p = NewRetryPolicy(WithMaxAttempts(0), WithDelay(time.Millisecond))
	assert.Equal(t, 2, p.MaxAttempts, "non-positive attempts are ignored")
	assert.Equal(t, time.Millisecond, p.Delay)
}

func TestRetryPolicy_SucceedsOnRetry(t *testing.T) {
	var calls, notified int
	err := DefaultRetryPolicy().ExecuteWithNotify(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &ProviderError{StatusCode: 503, Message: "busy"}
		}
		return nil
	}, func(attempt int, err error) {
		notified++
		assert.Equal(t, 1, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, notified)
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	var calls int
	err := NewRetryPolicy(WithMaxAttempts(3)).Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return &ProviderError{StatusCode: 500, Message: "boom"}
	})

	assert.Equal(t, 3, calls)
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "boom", perr.UserMessage())
}

func TestRetryPolicy_NonRetryable(t *testing.T) {
	sentinel := errors.New("bad input")
	var calls int
	err := DefaultRetryPolicy().Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := NewRetryPolicy(WithDelay(time.Hour)).Execute(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return &ProviderError{StatusCode: 500}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&ProviderError{Err: errors.New("reset")}))
	assert.False(t, IsRetryable(&ProviderError{Err: context.DeadlineExceeded}))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(&ValidationError{Message: "nope"}))
	assert.True(t, IsValidation(&ValidationError{Message: "nope"}))
}
