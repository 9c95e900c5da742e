// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RetryConfig tunes Retry.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// call fails. Zero disables retries.
	MaxRetries int

	// InitialDelay is the wait before the first retry. Each subsequent
	// delay is multiplied by BackoffMultiplier and capped at MaxDelay.
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// Classify decides whether an error is worth retrying. Nil means
	// IsRetryable.
	Classify func(error) bool
}

// DefaultRetryConfig returns 3 retries at 1s/2s/4s capped at 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	}
}

// retryableFragments are matched case-insensitively against error text for
// errors that carry no structured type. Covers upstream rate limiting and
// the transient network failure modes worth another attempt.
var retryableFragments = []string{
	"rate limit",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"no such host",
	"503",
	"502",
	"429",
}

// IsRetryable is the default error classification: timeouts and transient
// network or upstream-overload failures retry; everything else is
// terminal. Context cancellation and open breakers never retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsCircuitOpen(err) {
		return false
	}
	if IsTimeout(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// Retry runs fn, retrying on classified-retryable failures with
// exponential backoff.
//
// # Description
//
// A call failing n <= MaxRetries times and then succeeding is invoked
// exactly n+1 times and returns the success value. A non-retryable error
// aborts immediately after the first attempt that produced it. Exhausting
// all retries returns the last error unchanged so callers can still
// unwrap it.
//
// The backoff sleep honors ctx: cancellation during a wait returns
// ctx.Err() without another attempt.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	classify := cfg.Classify
	if classify == nil {
		classify = IsRetryable
	}

	var zero T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying after error",
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			trace.SpanFromContext(ctx).AddEvent("retry_attempt", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("error", lastErr.Error()),
			))
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.MaxRetries || !classify(err) {
			break
		}
	}

	slog.Error("retry failed, giving up", "maxRetries", cfg.MaxRetries, "error", lastErr)
	return zero, lastErr
}
