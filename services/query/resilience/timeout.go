// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"context"
	"time"
)

// WithTimeout races fn against a timer.
//
// # Description
//
// fn runs in its own goroutine with a child context that is canceled when
// the budget expires. On expiry the caller gets a *TimeoutError carrying
// the operation name and the configured duration (which the default
// retry classification treats as retryable) and stops waiting for fn. A
// callee that ignores its context keeps running in the background; only
// the caller's interest in its result is canceled.
//
// A timeout of zero or less runs fn inline without a deadline.
func WithTimeout[T any](ctx context.Context, operation string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}
	// Buffered so a late fn return never leaks the goroutine.
	done := make(chan outcome, 1)

	go func() {
		result, err := fn(callCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-callCtx.Done():
		var zero T
		if ctx.Err() != nil {
			// The parent was canceled, not our budget.
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Operation: operation, Timeout: timeout}
	}
}
