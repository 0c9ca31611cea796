package tools

import (
	"context"
	"log/slog"
	"time"
)

// Retry policy, fixed across the catalog: Throttled and Upstream failures
// are retried up to three attempts with exponential backoff capped at 10s;
// Timeout is retried once; every other kind surfaces immediately.
const (
	maxRetryAttempts   = 3
	maxTimeoutAttempts = 2
	baseRetryDelay     = 500 * time.Millisecond
	maxRetryDelay      = 10 * time.Second
)

// withRetry invokes fn under the catalog retry policy, honoring ctx between
// attempts. The final error is whatever the last attempt returned.
func withRetry(ctx context.Context, logger *slog.Logger, tool string, fn func(context.Context) (*Result, error)) (*Result, error) {
	var lastErr error
	delay := baseRetryDelay

	for attempt := 1; ; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		te := AsToolError(err)
		if !te.Retryable || attempt >= attemptsFor(te.Kind) {
			return nil, lastErr
		}

		logger.Warn("Tool call failed, retrying",
			"tool", tool,
			"attempt", attempt,
			"kind", string(te.Kind),
			"delay", delay,
			"error", te.Message)

		select {
		case <-ctx.Done():
			return nil, AsToolError(ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

func attemptsFor(kind ErrorKind) int {
	switch kind {
	case KindTimeout:
		return maxTimeoutAttempts
	case KindThrottled, KindUpstream:
		return maxRetryAttempts
	default:
		return 1
	}
}
