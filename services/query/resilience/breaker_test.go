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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeClock provides a manually advanced time source for breaker tests.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestBreaker(cfg BreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewCircuitBreaker("test", cfg)
	b.now = clock.Now
	b.lastWindowReset = clock.Now()
	return b, clock
}

var errBoom = errors.New("boom")

func failN(b *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Do(context.Background(), func(context.Context) error { return errBoom })
	}
}

// =============================================================================
// State Machine Tests
// =============================================================================

// TestCircuitBreaker_OpensAfterThreshold verifies the breaker opens after
// the configured number of consecutive failures and then rejects calls
// without invoking the wrapped function.
func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: time.Minute,
	})

	failN(b, 2)
	assert.Equal(t, StateClosed, b.State(), "below threshold should stay closed")

	failN(b, 1)
	require.Equal(t, StateOpen, b.State(), "threshold reached should open")

	invoked := false
	err := b.Do(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err), "rejection should be a CircuitOpenError")
	assert.False(t, invoked, "open breaker must not invoke the function")
}

// TestCircuitBreaker_HalfOpenAfterResetTimeout verifies that once the
// reset timeout elapses a trial call is let through.
func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: time.Hour,
	})

	failN(b, 1)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(61 * time.Second)

	invoked := false
	err := b.Do(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, invoked, "trial call should run after reset timeout")
	assert.Equal(t, StateHalfOpen, b.State(), "one success is not enough to close")
}

// TestCircuitBreaker_TwoHalfOpenSuccessesClose verifies the breaker needs
// two consecutive trial successes to close.
func TestCircuitBreaker_TwoHalfOpenSuccessesClose(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: time.Hour,
	})

	failN(b, 1)
	clock.Advance(61 * time.Second)

	for i := 0; i < 2; i++ {
		err := b.Do(context.Background(), func(context.Context) error { return nil })
		require.NoError(t, err)
	}

	assert.Equal(t, StateClosed, b.State(), "two trial successes should close")
}

// TestCircuitBreaker_HalfOpenFailureReopens verifies a single failed trial
// call sends the breaker straight back to open.
func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: time.Hour,
	})

	failN(b, 1)
	clock.Advance(61 * time.Second)

	err := b.Do(context.Background(), func(context.Context) error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State(), "half-open failure should reopen")

	// Still rejecting before another reset timeout passes.
	err = b.Do(context.Background(), func(context.Context) error { return nil })
	assert.True(t, IsCircuitOpen(err))
}

// TestCircuitBreaker_SuccessResetsFailures verifies a closed breaker
// forgets its failure count on any success, so only consecutive failures
// can trip it.
func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: time.Hour,
	})

	failN(b, 2)
	require.NoError(t, b.Do(context.Background(), func(context.Context) error { return nil }))
	failN(b, 2)

	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not trip the breaker")
}

// TestCircuitBreaker_WindowDecay verifies sub-threshold failures are
// forgotten once the monitoring period passes.
func TestCircuitBreaker_WindowDecay(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: time.Minute,
	})

	failN(b, 2)
	clock.Advance(2 * time.Minute)

	// Window passed: the next call sees a fresh counter, so two more
	// failures still leave the breaker closed.
	failN(b, 2)
	assert.Equal(t, StateClosed, b.State())
}

// TestCircuitBreaker_Stats verifies the health snapshot reflects state.
func TestCircuitBreaker_Stats(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: time.Minute,
	})

	failN(b, 1)
	stats := b.Stats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, "open", stats.State)
	assert.Equal(t, 1, stats.Failures)
	assert.False(t, stats.LastFailureTime.IsZero())
}

// TestCircuitBreaker_OnStateChangeHook verifies every transition fires
// the hook exactly once with the new state, in order.
func TestCircuitBreaker_OnStateChangeHook(t *testing.T) {
	var transitions []State
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: time.Hour,
		OnStateChange: func(name string, state State) {
			assert.Equal(t, "test", name)
			transitions = append(transitions, state)
		},
	})

	failN(b, 2)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(61 * time.Second)
	for i := 0; i < 2; i++ {
		err := b.Do(context.Background(), func(context.Context) error { return nil })
		require.NoError(t, err)
	}
	require.Equal(t, StateClosed, b.State())

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}
