package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

// WithSchedule executes an operation under an explicit retry schedule.
//
// Ordering is jitter-then-backoff: after every attempt, successful or not,
// the caller sleeps a uniform random delay in [JitterMin, JitterMax] to
// space consecutive requests; a failed attempt that still has retries left
// then also sleeps the scheduled backoff for its attempt index. When the
// schedule is shorter than the attempt count the last entry repeats.
func WithSchedule(ctx context.Context, operation func() error, policy service.RetryPolicy) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := operation()

		if jitterErr := Sleep(ctx, Jitter(policy.JitterMin, policy.JitterMax)); jitterErr != nil {
			if err != nil {
				return err
			}
			return jitterErr
		}

		if err == nil {
			return nil
		}
		lastErr = err

		var retryableErr *RetryableError
		if errors.As(err, &retryableErr) && !retryableErr.Retryable {
			return err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		wait := scheduledBackoff(policy.Backoff, attempt)
		slog.Warn("Operation failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"backoff", wait,
			"error", err)

		if sleepErr := Sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrMaxRetries, policy.MaxAttempts, lastErr)
}

// scheduledBackoff returns the wait after the given 1-based failed attempt.
func scheduledBackoff(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

// Jitter returns a uniform random duration in [min, max]. Degenerate
// windows collapse to min so configs may disable jitter with zeros.
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

// Sleep waits for d unless the context is canceled first. Zero and
// negative durations return immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
