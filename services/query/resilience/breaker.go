// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resilience guards every outbound call the query pipeline makes.
//
// Three independently composable primitives are provided: a circuit breaker
// per logical dependency, retry with exponential backoff, and a timeout
// race. Guard composes them outermost-to-innermost as breaker -> retry ->
// timeout, so one exhausted retry sequence counts as a single breaker
// failure.
package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the circuit breaker state machine position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// halfOpenSuccessesToClose is how many consecutive trial successes close a
// half-open breaker.
const halfOpenSuccessesToClose = 2

// BreakerConfig tunes a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that trips the
	// breaker from closed to open.
	FailureThreshold int

	// ResetTimeout is how long after the last failure an open breaker
	// waits before letting a trial call through in half-open state.
	ResetTimeout time.Duration

	// MonitoringPeriod is the rolling window after which a closed
	// breaker's failure counter decays back to zero, so sporadic failures
	// spread over a long period never trip it.
	MonitoringPeriod time.Duration

	// OnStateChange, when set, is invoked on every state transition.
	// Called while the breaker's lock is held, so it must not call back
	// into the breaker.
	OnStateChange func(name string, state State)
}

// DefaultBreakerConfig returns production defaults: 5 failures to open,
// 60s reset timeout, 60s monitoring window.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: time.Minute,
	}
}

// CircuitBreaker is the per-dependency failure gate.
//
// # Description
//
// Starts closed. Each failure increments a consecutive-failure counter;
// reaching FailureThreshold opens the breaker and timestamps the
// transition. While open, calls are rejected with *CircuitOpenError until
// ResetTimeout has elapsed since the last failure, then the next call runs
// in half-open state. Two consecutive half-open successes close the
// breaker; any half-open failure reopens it and resets the trial counter.
//
// One instance exists per logical dependency ("llm", "embeddings",
// "moderation", "retrieval"), shared by all in-flight queries for the
// process lifetime.
//
// # Thread Safety
//
// All transitions happen under a single mutex so two queries can never
// observe stale state and double-open or double-close the breaker.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu                sync.Mutex
	state             State
	failures          int
	lastFailureTime   time.Time
	lastWindowReset   time.Time
	halfOpenSuccesses int

	now func() time.Time
}

// BreakerStats is a point-in-time snapshot for the health endpoint.
type BreakerStats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	LastFailureTime time.Time `json:"lastFailureTime,omitempty"`
}

// NewCircuitBreaker creates a closed breaker for the named dependency.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	b := &CircuitBreaker{
		name: name,
		cfg:  cfg,
		now:  time.Now,
	}
	b.lastWindowReset = b.now()
	return b
}

// Do runs fn under the breaker. If the breaker is open and the reset
// timeout has not elapsed, fn is not invoked and *CircuitOpenError is
// returned immediately.
func (b *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// allow decides whether a call may proceed, applying window decay and the
// open -> half-open transition.
func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	// Rolling-window decay: a closed breaker forgets sub-threshold
	// failures once the monitoring period passes.
	if now.Sub(b.lastWindowReset) > b.cfg.MonitoringPeriod {
		b.lastWindowReset = now
		if b.state == StateClosed && b.failures < b.cfg.FailureThreshold {
			b.failures = 0
		}
	}

	if b.state == StateOpen {
		sinceLastFailure := now.Sub(b.lastFailureTime)
		if sinceLastFailure <= b.cfg.ResetTimeout {
			return &CircuitOpenError{
				Name:             b.name,
				SinceLastFailure: sinceLastFailure,
				ResetTimeout:     b.cfg.ResetTimeout,
			}
		}
		slog.Debug("circuit breaker transitioning to half-open", "breaker", b.name)
		b.setState(StateHalfOpen)
		b.halfOpenSuccesses = 0
	}

	return nil
}

func (b *CircuitBreaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= halfOpenSuccessesToClose {
			slog.Debug("circuit breaker transitioning to closed", "breaker", b.name)
			b.setState(StateClosed)
			b.halfOpenSuccesses = 0
		}
	}
}

func (b *CircuitBreaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = b.now()

	if b.state == StateHalfOpen {
		slog.Debug("circuit breaker reopening after half-open failure", "breaker", b.name)
		b.setState(StateOpen)
		b.halfOpenSuccesses = 0
		return
	}

	if b.state == StateClosed && b.failures >= b.cfg.FailureThreshold {
		slog.Warn("circuit breaker transitioning to open",
			"breaker", b.name,
			"failures", b.failures,
			"threshold", b.cfg.FailureThreshold,
		)
		b.setState(StateOpen)
	}
}

// setState transitions the breaker and fires the state-change hook.
// Callers must hold b.mu.
func (b *CircuitBreaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, s)
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the dependency name this breaker guards.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Stats returns a snapshot of the breaker for the health endpoint.
func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Name:            b.name,
		State:           b.state.String(),
		Failures:        b.failures,
		LastFailureTime: b.lastFailureTime,
	}
}
