package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// StatusError is returned for an HTTP error status. Non-retryable statuses
// surface directly to the caller; retryable ones only as ExhaustedError.Last.
type StatusError struct {
	URL        string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d) for %s: %s",
		e.ErrorClass, e.StatusCode, e.URL, e.Message)
}

// ExhaustedError reports a URL that kept failing transiently until the
// attempt budget ran out.
type ExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %v", ErrRetryExhausted, e.URL, e.Attempts, e.Last)
}

// Unwrap exposes the last observed error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Is makes errors.Is(err, ErrRetryExhausted) hold.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// networkError marks a transport or body-read failure.
type networkError struct {
	Err error
}

func (e *networkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *networkError) Unwrap() error {
	return e.Err
}
