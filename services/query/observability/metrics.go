// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the query
// service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring query pipeline
// operations. Metrics include:
//   - Query counters (by status and confidence level)
//   - Stage latency histograms (safety, retrieval, generation, total)
//   - Cache hit/miss counters per cacheable stage
//   - Circuit breaker state gauges and safety rejection counters
//   - Token usage counters (prompt/completion by model)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "driftline"

// Subsystem for query pipeline metrics
const querySubsystem = "query"

// QueryMetrics holds all Prometheus metrics for the query pipeline.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring pipeline
// throughput, latency, and resilience behavior. Initialize once at startup
// via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type QueryMetrics struct {
	// QueriesTotal counts queries by terminal status.
	// Labels: status (success, safety_rejected, dependency_error, timeout, circuit_open)
	QueriesTotal *prometheus.CounterVec

	// ConfidenceLevelTotal counts answered queries by confidence level.
	// Labels: level (high, medium, low, very_low)
	ConfidenceLevelTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage latency.
	// Labels: stage (safety, retrieval, generation, total)
	StageDurationSeconds *prometheus.HistogramVec

	// CacheOpsTotal counts cache lookups by stage and outcome.
	// Labels: stage (retrieval, llm, embeddings), outcome (hit, miss)
	CacheOpsTotal *prometheus.CounterVec

	// SafetyRejectionsTotal counts gate rejections by reason.
	// Labels: reason (moderation, injection, pii)
	SafetyRejectionsTotal *prometheus.CounterVec

	// BreakerState reports each breaker's current state as a number
	// (0 closed, 1 open, 2 half-open).
	// Labels: dependency (retrieval, generation, embeddings, moderation)
	BreakerState *prometheus.GaugeVec

	// TokensTotal counts tokens by direction and model.
	// Labels: direction (prompt, completion), model
	TokensTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of QueryMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *QueryMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *QueryMetrics {
	DefaultMetrics = &QueryMetrics{
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "queries_total",
				Help:      "Total queries by terminal status",
			},
			[]string{"status"},
		),

		ConfidenceLevelTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "confidence_level_total",
				Help:      "Answered queries by confidence level",
			},
			[]string{"level"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"stage"},
		),

		CacheOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "cache_ops_total",
				Help:      "Cache lookups by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),

		SafetyRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "safety_rejections_total",
				Help:      "Queries rejected by the safety gate, by reason",
			},
			[]string{"reason"},
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"dependency"},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "tokens_total",
				Help:      "Tokens consumed by direction and model",
			},
			[]string{"direction", "model"},
		),
	}

	return DefaultMetrics
}

// ObserveQuery records the terminal status of one query.
func (m *QueryMetrics) ObserveQuery(status string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(status).Inc()
}

// ObserveStage records one stage's latency.
func (m *QueryMetrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// ObserveCache records a cache lookup outcome for a stage.
func (m *QueryMetrics) ObserveCache(stage string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheOpsTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveConfidence records the confidence level of one answered query.
func (m *QueryMetrics) ObserveConfidence(level string) {
	if m == nil {
		return
	}
	m.ConfidenceLevelTotal.WithLabelValues(level).Inc()
}

// ObserveSafetyRejection records the reasons one query was rejected.
func (m *QueryMetrics) ObserveSafetyRejection(reasons ...string) {
	if m == nil {
		return
	}
	for _, reason := range reasons {
		m.SafetyRejectionsTotal.WithLabelValues(reason).Inc()
	}
}

// ObserveBreakerState records a breaker's state transition. The state
// value follows the gauge encoding: 0 closed, 1 open, 2 half-open.
func (m *QueryMetrics) ObserveBreakerState(dependency string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(dependency).Set(state)
}

// ObserveTokens records token usage for a model.
func (m *QueryMetrics) ObserveTokens(model string, prompt, completion int) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("prompt", model).Add(float64(prompt))
	m.TokensTotal.WithLabelValues("completion", model).Add(float64(completion))
}
