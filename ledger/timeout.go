package ledger

import (
	"context"
	"time"
)

// withTimeout races fn against a hard deadline. The timer is always stopped
// on the way out. If the deadline elapses first, fn keeps running in its
// goroutine and its result is discarded; the ledger SDK is not cancellable
// mid-call.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}

	done := make(chan outcome, 1)
	go func() {
		val, err := fn(ctx)
		done <- outcome{val: val, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	case o := <-done:
		return o.val, o.err
	}
}
