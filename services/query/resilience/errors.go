// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError reports that a guarded call exceeded its time budget.
// It is always classified as retryable.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Timeout)
}

// IsTimeout checks whether err is (or wraps) a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// CircuitOpenError is returned without invoking the wrapped call while a
// dependency's breaker is open. It is terminal for the current query but
// the handler layer maps it to a retry-later status.
type CircuitOpenError struct {
	Name             string
	SinceLastFailure time.Duration
	ResetTimeout     time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open: last failure %s ago (reset timeout %s)",
		e.Name, e.SinceLastFailure.Round(time.Millisecond), e.ResetTimeout)
}

// IsCircuitOpen checks whether err is (or wraps) a *CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}
