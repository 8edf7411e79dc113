package gemini

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	. "github.com/roelfdiedericks/gemini-mcp/internal/logging"
)

// attemptError carries a failed Outcome through backoff.
type attemptError struct {
	out Outcome
}

func (e *attemptError) Error() string { return e.out.Message }

// retryPolicy is a fixed delay between attempts, at most maxRetries retries,
// abandoned when ctx is done.
func retryPolicy(ctx context.Context, s Settings) backoff.BackOff {
	retries := max(s.MaxRetries, 0)
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.RetryDelay), uint64(retries)),
		ctx,
	)
}

// withRetries runs up to MaxRetries+1 attempts against one model. Only
// Retriable failures are retried; FallbackNow and Fatal end the sequence at
// once. The returned Outcome is the success or the last failure.
func (e *Engine) withRetries(ctx context.Context, model string, req Request, s Settings, timeout time.Duration) Outcome {
	var last Outcome
	attempt := 0

	op := func() error {
		attempt++
		start := time.Now()
		last = e.attempt(ctx, model, req, timeout)
		e.recordAttempt(model, last, time.Since(start))

		if last.OK {
			return nil
		}
		err := &attemptError{out: last}
		if last.Disposition != Retriable {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		L_info("gemini: retrying", "model", displayModel(model), "attempt", attempt,
			"of", s.MaxRetries+1, "wait", wait, "error", shortError(err.Error()))
		e.metrics.IncrementCounter("gemini", "retries")
	}

	if err := backoff.RetryNotify(op, retryPolicy(ctx, s), notify); err != nil && !last.OK {
		L_debug("gemini: attempts ended", "model", displayModel(model), "attempts", attempt,
			"disposition", last.Disposition)
	}
	return last
}
