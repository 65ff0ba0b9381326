package jira

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alekspetrov/alm/internal/auth"
)

// RetryOptions configures retry behavior
type RetryOptions struct {
	MaxRetries int           // Maximum number of retries (default: 3)
	BaseDelay  time.Duration // Initial delay between retries (default: 1s)
	MaxDelay   time.Duration // Maximum delay between retries (default: 30s)
}

// DefaultRetryOptions returns sensible defaults for retry behavior
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// APIError is a non-2xx reply from the Jira REST API.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return "jira API error (status " + strconv.Itoa(e.StatusCode) + "): " + e.Body
}

// reauthError marks a 401 that should be retried once with a fresh session.
type reauthError struct {
	err error
}

func (e *reauthError) Error() string { return e.err.Error() }
func (e *reauthError) Unwrap() error { return e.err }

// WithRetry executes an operation with exponential backoff retry.
// It respects context cancellation and Jira's Retry-After header.
func WithRetry[T any](ctx context.Context, op func() (T, error), opts RetryOptions) (T, error) {
	return retryWhile(ctx, op, opts, isRetryableError)
}

// WithWriteRetry is WithRetry for requests that are not idempotent. It only
// retries failures where the server cannot have applied the write.
func WithWriteRetry[T any](ctx context.Context, op func() (T, error), opts RetryOptions) (T, error) {
	return retryWhile(ctx, op, opts, isRetryableWrite)
}

func retryWhile[T any](ctx context.Context, op func() (T, error), opts RetryOptions, retryable func(error) bool) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		result, lastErr = op()
		if lastErr == nil {
			return result, nil
		}

		if !retryable(lastErr) || attempt >= opts.MaxRetries {
			break
		}

		// 1s, 2s, 4s, ... capped at MaxDelay
		delay := opts.BaseDelay * time.Duration(1<<uint(attempt))
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
		if retryAfter := extractRetryAfter(lastErr); retryAfter > 0 {
			delay = retryAfter
		}
		var reauth *reauthError
		if errors.As(lastErr, &reauth) {
			delay = 0
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}

	// A reauth marker is internal; surface the API error it wraps.
	var reauth *reauthError
	if errors.As(lastErr, &reauth) {
		lastErr = reauth.err
	}
	return result, lastErr
}

// isRetryableError reports whether err is transient: rate limiting, a 5xx,
// a network failure, or a first 401 after which the session was dropped.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Credential failures surface to the caller untouched.
	if auth.IsAuthError(err) {
		return false
	}

	var reauth *reauthError
	if errors.As(err, &reauth) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isRetryableWrite reports whether a failed write is safe to send again:
// rate limiting, a first 401, or a connection that was never established.
// A 5xx or a dropped connection may follow a stored write.
func isRetryableWrite(err error) bool {
	if err == nil || auth.IsAuthError(err) {
		return false
	}

	var reauth *reauthError
	if errors.As(err, &reauth) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}

	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// extractRetryAfter returns the server-requested delay, or 0.
func extractRetryAfter(err error) time.Duration {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return 0
	}
	if apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return 10 * time.Second
	}
	return 0
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(h); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}
