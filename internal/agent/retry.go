package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/tools"
)

// RetryPolicy bounds retries of a failed tool call. Only transient
// kinds (external_service, timeout, rate_limit) are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy allows three attempts starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// ExecuteWithRetry calls fn until it succeeds, fails with a
// non-retryable error, or the attempts run out. Deferred outcomes are
// returned as-is; waiting on them is not retried.
func ExecuteWithRetry(ctx context.Context, p RetryPolicy, logger *slog.Logger, fn func(context.Context) (tools.Outcome, error)) (tools.Outcome, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.MaxAttempts > 3 {
		p.MaxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !apperr.Retryable(err) || attempt == p.MaxAttempts {
			break
		}

		logger.Debug("retrying tool call", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return nil, lastErr
}
