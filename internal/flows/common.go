package flows

import (
	"context"
	"strconv"
	"time"
)

// RetryError carries a retry hint alongside the sentinel it wraps.
type RetryError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryError) Error() string {
	if e.RetryAfter <= 0 {
		return e.Err.Error()
	}
	return e.Err.Error() + " (retry after " + strconv.FormatInt(int64(e.RetryAfter.Round(time.Second)/time.Second), 10) + "s)"
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
