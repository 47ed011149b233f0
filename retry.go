package recall

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// retryConfig holds the retry policy applied by Retry.
type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *slog.Logger
	retryable   func(error) bool
}

// RetryOption configures a Retry call.
type RetryOption func(*retryConfig)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(c *retryConfig) { c.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles up to the max delay.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.baseDelay = d }
}

// RetryMaxDelay caps the backoff delay (default: 30s).
func RetryMaxDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.maxDelay = d }
}

// RetryLogger sets the structured logger for retry events. When set,
// retries log at WARN and final failures after exhausting attempts log at
// ERROR. If not set, nothing is logged.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(c *retryConfig) { c.logger = l }
}

// RetryIf replaces the default retryable-error predicate (IsTransient).
func RetryIf(fn func(error) bool) RetryOption {
	return func(c *retryConfig) { c.retryable = fn }
}

// Retry calls fn up to the configured number of attempts, sleeping with
// exponential backoff between transient failures. Non-retryable errors
// return immediately. Context cancellation aborts the backoff sleep.
func Retry[T any](ctx context.Context, fn func() (T, error), opts ...RetryOption) (T, error) {
	cfg := retryConfig{
		maxAttempts: 3,
		baseDelay:   time.Second,
		maxDelay:    30 * time.Second,
		retryable:   IsTransient,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	var zero T
	var last error
	for i := 0; i < cfg.maxAttempts; i++ {
		result, err := fn()
		if err == nil || !cfg.retryable(err) {
			return result, err
		}
		last = err
		cfg.logger.Warn("retrying transient error",
			"attempt", i+1,
			"max_attempts", cfg.maxAttempts,
			"error", err)
		if i < cfg.maxAttempts-1 {
			timer := time.NewTimer(retryBackoff(cfg.baseDelay, cfg.maxDelay, i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	cfg.logger.Error("all retry attempts exhausted",
		"attempts", cfg.maxAttempts,
		"error", last)
	return zero, last
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i capped at max, plus up to 50% random jitter.
func retryBackoff(base, max time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	if exp > max {
		exp = max
	}
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}
