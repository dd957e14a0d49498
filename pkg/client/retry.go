package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first request.
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt; it doubles per attempt.
	BaseDelay time.Duration

	// MaxBackoff caps a single backoff.
	MaxBackoff time.Duration

	// RetryableStatus lists the HTTP statuses treated as transient.
	RetryableStatus []int
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 8,
		BaseDelay:   1 * time.Second,
		MaxBackoff:  30 * time.Second,
		RetryableStatus: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// Validate checks that the policy can drive a retry loop.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1 (got %d)", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay cannot be negative")
	}
	if p.MaxBackoff < 0 {
		return fmt.Errorf("max backoff cannot be negative")
	}
	return nil
}

// Backoff returns the wait after the zero-based attempt i:
// min(MaxBackoff, BaseDelay * 2^i).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if d >= float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// IsRetryableStatus reports whether the status is in RetryableStatus.
func (p RetryPolicy) IsRetryableStatus(status int) bool {
	for _, s := range p.RetryableStatus {
		if s == status {
			return true
		}
	}
	return false
}

// shouldRetry reports whether err is a transient condition under the policy.
func (p RetryPolicy) shouldRetry(err error) bool {
	var netErr *networkError
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return p.IsRetryableStatus(statusErr.StatusCode)
	}
	return false
}

// retryWithBackoff runs fn until it succeeds, fails terminally, or the
// policy's attempts are used up. It sleeps only between attempts.
func (c *Client) retryWithBackoff(ctx context.Context, url string, fn func() error) error {
	policy := c.policy

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				c.logger.Info().
					Str("url", url).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}

		// Terminal errors propagate unchanged
		if !policy.shouldRetry(err) {
			return err
		}

		lastErr = err
		errClass := classOf(err)

		if attempt == policy.MaxAttempts-1 {
			break
		}

		backoff := policy.Backoff(attempt)
		retriesTotal.WithLabelValues(string(errClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(errClass)).Observe(backoff.Seconds())

		c.logger.Warn().
			Err(err).
			Str("url", url).
			Str("error_class", string(errClass)).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Retrying request after backoff")

		if err := c.sleep(ctx, backoff); err != nil {
			c.logger.Warn().
				Str("url", url).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	retryExhaustedTotal.WithLabelValues(string(classOf(lastErr))).Inc()
	c.logger.Warn().
		Str("url", url).
		Int("max_attempts", policy.MaxAttempts).
		Msg("Retry attempts exhausted")

	return &ExhaustedError{URL: url, Attempts: policy.MaxAttempts, Last: lastErr}
}
