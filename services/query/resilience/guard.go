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

// Guard bundles the per-dependency breaker with the retry and timeout
// settings every call to that dependency runs under.
//
// The composition order is fixed: breaker outermost, then retry, then
// timeout around the single call. One exhausted retry sequence therefore
// counts as one breaker failure, and a fail-fast breaker rejection is
// never retried.
type Guard struct {
	Breaker *CircuitBreaker
	Retry   RetryConfig
	Timeout time.Duration
}

// NewGuard creates a guard for the named dependency.
func NewGuard(name string, breakerCfg BreakerConfig, retryCfg RetryConfig, timeout time.Duration) *Guard {
	return &Guard{
		Breaker: NewCircuitBreaker(name, breakerCfg),
		Retry:   retryCfg,
		Timeout: timeout,
	}
}

// Do runs op through the guard's breaker -> retry -> timeout stack and
// returns its value.
//
// Implemented as a package function because Go methods cannot carry their
// own type parameters.
func Do[T any](ctx context.Context, g *Guard, operation string, op func(context.Context) (T, error)) (T, error) {
	var result T

	err := g.Breaker.Do(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = Retry(ctx, g.Retry, func(ctx context.Context) (T, error) {
			return WithTimeout(ctx, operation, g.Timeout, op)
		})
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
