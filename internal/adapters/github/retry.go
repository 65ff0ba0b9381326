package github

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	gh "github.com/google/go-github/v66/github"
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

// WithRetry executes an operation with exponential backoff retry.
// It respects context cancellation and GitHub's rate limit reset times.
func WithRetry[T any](ctx context.Context, op func() (T, error), opts RetryOptions) (T, error) {
	return retryWhile(ctx, op, opts, isRetryableError)
}

// WithWriteRetry is WithRetry for calls that are not idempotent, such as
// posting a comment. Only failures where GitHub cannot have applied the
// write are retried.
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
			return result, lastErr
		}

		// 1s, 2s, 4s, ... capped at MaxDelay
		delay := opts.BaseDelay * time.Duration(1<<uint(attempt))
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
		if retryAfter := extractRetryAfter(lastErr); retryAfter > 0 {
			delay = retryAfter
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}

	return result, lastErr
}

// isRetryableError reports whether a go-github error is transient: rate
// limiting, a 5xx, or a network failure. 4xx replies are final.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
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
// rate limiting, or a connection that was never established.
func isRetryableWrite(err error) bool {
	if err == nil {
		return false
	}

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode == http.StatusTooManyRequests
	}

	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// maxRateLimitWait caps the wait for a primary rate limit reset, which can
// be up to an hour away.
const maxRateLimitWait = 2 * time.Minute

// extractRetryAfter returns how long GitHub asked us to wait, or 0.
func extractRetryAfter(err error) time.Duration {
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
		return *abuseErr.RetryAfter
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		if wait := time.Until(rateErr.Rate.Reset.Time); wait > 0 {
			return min(wait, maxRateLimitWait)
		}
		// Secondary limit without a reset time.
		return 60 * time.Second
	}
	return 0
}
