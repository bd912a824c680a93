package completion

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how often a failed provider call is repeated.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy makes one immediate retry.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 2,
		Delay:       0,
	}
}

type RetryPolicyOption func(*RetryPolicy)

func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) {
		if n > 0 {
			p.MaxAttempts = n
		}
	}
}

// WithDelay sets a fixed wait between attempts.
func WithDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.Delay = d
	}
}

func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type RetryableFunc func(ctx context.Context) error

// RetryNotifyFunc is called before each repeated attempt.
type RetryNotifyFunc func(attempt int, err error)

func (p *RetryPolicy) Execute(ctx context.Context, fn RetryableFunc) error {
	return p.ExecuteWithNotify(ctx, fn, nil)
}

func (p *RetryPolicy) ExecuteWithNotify(ctx context.Context, fn RetryableFunc, notify RetryNotifyFunc) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		if notify != nil {
			notify(attempt, err)
		}

		if p.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay):
			}
		}
	}

	return &RetryExhaustedError{
		Attempts: p.MaxAttempts,
		LastErr:  lastErr,
	}
}

// RetryExhaustedError indicates all attempts failed.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}
