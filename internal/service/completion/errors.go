package completion

import (
	"context"
	"errors"
	"fmt"
)

var ErrEmptyOutput = errors.New("provider returned no usable text")

// ValidationError rejects a request before any provider call. Message is
// meant for the end user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ProviderError is a failed provider call: either a transport error or a
// non-success response.
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider call failed: %v", e.Err)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown for a failed generation.
func (e *ProviderError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("provider returned status %d", e.StatusCode)
}

// IsRetryable reports whether a failed attempt may be repeated. Provider
// failures are; cancellation and everything else are not.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perr *ProviderError
	return errors.As(err, &perr)
}

func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
