// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package safety screens the incoming question before any retrieval or
// generation happens. Three independent checks run concurrently:
// moderation against an external backend, PII pattern detection, and
// prompt-injection pattern detection.
package safety

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/DriftlineAI/driftline/services/query/datatypes"
	"github.com/DriftlineAI/driftline/services/query/resilience"
)

var gateTracer = otel.Tracer("driftline.query.safety")

// ModerationBackend is the external moderation API boundary. The gate,
// not the backend, owns resilience wrapping and the fail-open policy.
type ModerationBackend interface {
	Moderate(ctx context.Context, text string) (datatypes.ModerationResult, error)
}

// Gate runs the three safety checks for one question.
//
// # Description
//
// The checks have no ordering dependency, so they fan out on an errgroup
// and the gate waits for all three (fan-in) before assembling the result.
// Moderation goes through the resilience guard and FAILS OPEN: if the
// call still errors after retries, the text is treated as unflagged
// rather than failing the query. When PII is found the gate also produces
// a sanitized question with every matched span redacted.
//
// safe = !flagged && !injectionDetected && !piiDetected.
//
// # Thread Safety
//
// Gate is stateless apart from its injected dependencies and is safe for
// concurrent use.
type Gate struct {
	moderation ModerationBackend
	guard      *resilience.Guard
	enabled    bool
}

// NewGate creates a safety gate. When enabled is false, Check returns a
// synthetic all-clear result without touching any backend.
func NewGate(moderation ModerationBackend, guard *resilience.Guard, enabled bool) *Gate {
	return &Gate{
		moderation: moderation,
		guard:      guard,
		enabled:    enabled,
	}
}

// Check screens question and returns the full safety result.
//
// The only error Check can return is a context error from the fan-out;
// moderation backend failures are absorbed by the fail-open policy.
func (g *Gate) Check(ctx context.Context, question string) (*datatypes.SafetyResult, error) {
	ctx, span := gateTracer.Start(ctx, "Gate.Check")
	defer span.End()

	if !g.enabled {
		span.SetAttributes(attribute.Bool("safety.enabled", false))
		return datatypes.AllClearSafetyResult(), nil
	}

	var (
		moderation datatypes.ModerationResult
		pii        datatypes.PIIDetection
		injection  bool
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		moderation = g.checkModeration(egCtx, question)
		return nil
	})
	eg.Go(func() error {
		pii = DetectPII(question)
		return nil
	})
	eg.Go(func() error {
		injection = DetectPromptInjection(question)
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result := &datatypes.SafetyResult{
		Safe:              !moderation.Flagged && !injection && !pii.Detected,
		Moderation:        moderation,
		InjectionDetected: injection,
		PII:               pii,
	}

	if pii.Detected {
		result.SanitizedQuestion = RedactPII(question, pii)
	}

	span.SetAttributes(
		attribute.Bool("safety.safe", result.Safe),
		attribute.Bool("safety.moderation_flagged", moderation.Flagged),
		attribute.Bool("safety.injection_detected", injection),
		attribute.Bool("safety.pii_detected", pii.Detected),
	)

	if !result.Safe {
		slog.Debug("unsafe input detected",
			"flagged", moderation.Flagged,
			"injectionDetected", injection,
			"piiDetected", pii.Detected,
		)
	}

	return result, nil
}

// checkModeration calls the moderation backend through the guard. Fails
// open on any terminal error: availability wins over strictness here
// because the PII and injection checks still run.
func (g *Gate) checkModeration(ctx context.Context, text string) datatypes.ModerationResult {
	result, err := resilience.Do(ctx, g.guard, "moderation", func(ctx context.Context) (datatypes.ModerationResult, error) {
		return g.moderation.Moderate(ctx, text)
	})
	if err != nil {
		slog.Error("moderation backend failed, failing open", "error", err)
		return datatypes.ModerationResult{
			Flagged:        false,
			Categories:     map[string]bool{},
			CategoryScores: map[string]float64{},
		}
	}
	return result
}
