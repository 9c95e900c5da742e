// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline runs one query through the fixed stage order:
// safety gate, cached retrieval, cached generation, confidence scoring.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/DriftlineAI/driftline/services/query/backends"
	"github.com/DriftlineAI/driftline/services/query/cache"
	"github.com/DriftlineAI/driftline/services/query/config"
	"github.com/DriftlineAI/driftline/services/query/confidence"
	"github.com/DriftlineAI/driftline/services/query/datatypes"
	"github.com/DriftlineAI/driftline/services/query/observability"
	"github.com/DriftlineAI/driftline/services/query/resilience"
	"github.com/DriftlineAI/driftline/services/query/safety"
)

var tracer = otel.Tracer("driftline.query.pipeline")

// noInfoAnswer is returned without calling the generator when retrieval
// produces zero chunks. Generating against an empty context invites
// hallucination.
const noInfoAnswer = "I couldn't find relevant information to answer your question."

// Pipeline executes queries. All fields are set at construction and never
// mutated, so a single Pipeline is safe for concurrent use.
//
// # Description
//
// Each Query call runs the same stage order: the safety gate first (it
// sees the raw question and nothing downstream does if PII was found),
// then retrieval with an optional read-through cache, then generation
// with its own cache, then confidence scoring. Retrieval and generation
// run through per-dependency resilience guards; the guards are
// independent so an open generation breaker never blocks retrieval.
type Pipeline struct {
	cfg       *config.Config
	cache     cache.Cache
	gate      *safety.Gate
	retriever backends.Retriever
	generator backends.Generator
	estimator TokenEstimator

	retrievalGuard  *resilience.Guard
	generationGuard *resilience.Guard

	metrics *observability.QueryMetrics
}

// Options bundles the pipeline's collaborators for construction.
type Options struct {
	Config    *config.Config
	Cache     cache.Cache
	Gate      *safety.Gate
	Retriever backends.Retriever
	Generator backends.Generator
	Estimator TokenEstimator

	RetrievalGuard  *resilience.Guard
	GenerationGuard *resilience.Guard

	Metrics *observability.QueryMetrics
}

// New assembles a pipeline from its collaborators.
func New(opts Options) *Pipeline {
	return &Pipeline{
		cfg:             opts.Config,
		cache:           opts.Cache,
		gate:            opts.Gate,
		retriever:       opts.Retriever,
		generator:       opts.Generator,
		estimator:       opts.Estimator,
		retrievalGuard:  opts.RetrievalGuard,
		generationGuard: opts.GenerationGuard,
		metrics:         opts.Metrics,
	}
}

// Query answers one question.
//
// # Description
//
// Runs the full stage order and returns the response. The error is one
// of the typed pipeline errors: *SafetyRejectedError when the gate
// rejects, *DependencyError wrapping the underlying resilience error
// when retrieval or generation fail after retries.
//
// # Inputs
//
//   - ctx: Cancels the whole query; each external call additionally runs
//     under its guard's own timeout.
//   - question: The raw user question. Must be non-empty.
//
// # Outputs
//
//   - *datatypes.QueryResponse: The complete response on success.
//   - error: Typed error on rejection or dependency failure.
//
// # Errors
//
//   - *SafetyRejectedError: The safety gate rejected the question.
//   - *DependencyError: Retrieval or generation failed. Unwraps to
//     resilience.TimeoutError / CircuitOpenError where applicable.
func (p *Pipeline) Query(ctx context.Context, question string) (*datatypes.QueryResponse, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Query")
	defer span.End()

	started := time.Now()
	response := datatypes.NewQueryResponse(question)
	timings := datatypes.StageTimings{}
	cacheInfo := datatypes.CacheInfo{}

	// ===== Stage 1: safety gate =====
	safetyStart := time.Now()
	safetyResult, err := p.gate.Check(ctx, question)
	timings.SafetyCheckMs = time.Since(safetyStart).Milliseconds()
	p.metrics.ObserveStage("safety", time.Since(safetyStart).Seconds())
	if err != nil {
		p.metrics.ObserveQuery("dependency_error")
		return nil, &DependencyError{Dependency: "safety", Err: err}
	}
	if !safetyResult.Safe {
		p.recordRejection(safetyResult)
		span.SetAttributes(attribute.Bool("query.safety_rejected", true))
		return nil, &SafetyRejectedError{Result: safetyResult}
	}

	// Downstream stages only ever see the sanitized question when the
	// gate redacted PII. The raw question must not reach retrieval,
	// generation, or any cache key.
	effectiveQuestion := question
	if safetyResult.PII.Detected && safetyResult.SanitizedQuestion != "" {
		effectiveQuestion = safetyResult.SanitizedQuestion
		slog.Info("Using sanitized question for retrieval and generation")
	}

	// ===== Stage 2: retrieval =====
	// The trace lets the embedding cache, buried inside the retriever,
	// report its hit up into the response metadata.
	ctx, cacheTrace := backends.WithCacheTrace(ctx)
	retrievalStart := time.Now()
	chunks, retrievalHit, err := p.retrieve(ctx, effectiveQuestion)
	timings.RetrievalMs = time.Since(retrievalStart).Milliseconds()
	p.metrics.ObserveStage("retrieval", time.Since(retrievalStart).Seconds())
	if err != nil {
		p.recordDependencyFailure(err)
		return nil, &DependencyError{Dependency: "retrieval", Err: err}
	}
	cacheInfo.RetrievalHit = retrievalHit
	cacheInfo.EmbeddingsHit = cacheTrace.EmbeddingsHit
	span.SetAttributes(
		attribute.Int("query.chunk_count", len(chunks)),
		attribute.Bool("query.retrieval_cache_hit", retrievalHit),
	)

	// ===== Stage 3: generation =====
	var generation *datatypes.GenerationResult
	if len(chunks) == 0 {
		// Zero retrieved chunks: skip the generator entirely and answer
		// with the canned no-information text.
		generation = &datatypes.GenerationResult{Answer: noInfoAnswer}
		slog.Info("No chunks retrieved, returning no-information answer")
	} else {
		generationStart := time.Now()
		generation, err = p.generate(ctx, effectiveQuestion, chunks)
		timings.LLMGenerationMs = time.Since(generationStart).Milliseconds()
		p.metrics.ObserveStage("generation", time.Since(generationStart).Seconds())
		if err != nil {
			p.recordDependencyFailure(err)
			return nil, &DependencyError{Dependency: "generation", Err: err}
		}
		cacheInfo.LLMHit = generation.CacheHit
	}

	// ===== Stage 4: confidence =====
	var score *datatypes.ConfidenceScore
	if p.cfg.Confidence.Enabled {
		computed := confidence.Score(
			confidence.Factors{
				SimilarityScores: confidence.ExtractSimilarityScores(chunks),
				DocumentCount:    len(chunks),
				TopK:             p.cfg.Retriever.TopK,
				AnswerText:       generation.Answer,
				RetrievalMethod:  p.cfg.Retriever.SearchMethod,
			},
			confidence.Thresholds{
				Low:    p.cfg.Confidence.LowThreshold,
				Medium: p.cfg.Confidence.MediumThreshold,
				High:   p.cfg.Confidence.HighThreshold,
			},
		)
		if !p.cfg.Confidence.IncludeFactors {
			computed.Factors = nil
		}
		score = &computed
		p.metrics.ObserveConfidence(string(computed.Level))
		span.SetAttributes(
			attribute.Float64("query.confidence", computed.Overall),
			attribute.String("query.confidence_level", string(computed.Level)),
		)
	}

	timings.TotalMs = time.Since(started).Milliseconds()
	p.metrics.ObserveStage("total", time.Since(started).Seconds())
	p.metrics.ObserveQuery("success")
	if generation.TokenUsage != nil {
		p.metrics.ObserveTokens(p.cfg.LLM.Model,
			generation.TokenUsage.PromptTokens, generation.TokenUsage.CompletionTokens)
	}

	response.SystemAnswer = generation.Answer
	response.ChunksRelated = chunks
	response.Metadata = datatypes.ResponseMetadata{
		SearchMethod: p.cfg.Retriever.SearchMethod,
		TopK:         p.cfg.Retriever.TopK,
		Model:        p.cfg.LLM.Model,
		SearchTimeMs: timings.RetrievalMs,
		TokenUsage:   generation.TokenUsage,
		Timings:      timings,
		Cache:        cacheInfo,
		Confidence:   score,
	}
	response.Safety = datatypes.SafetySummary{
		Safe:              safetyResult.Safe,
		ModerationFlagged: safetyResult.Moderation.Flagged,
		InjectionDetected: safetyResult.InjectionDetected,
		PIIDetected:       safetyResult.PII.Detected,
		FlaggedCategories: safetyResult.Moderation.FlaggedCategories(),
	}

	slog.Info("Query answered",
		"query_id", response.Id,
		"chunks", len(chunks),
		"retrieval_cache_hit", cacheInfo.RetrievalHit,
		"llm_cache_hit", cacheInfo.LLMHit,
		"total_ms", timings.TotalMs)
	return response, nil
}

// retrieve runs the retrieval stage with its read-through cache.
func (p *Pipeline) retrieve(ctx context.Context, question string) ([]datatypes.RetrievedChunk, bool, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.retrieve")
	defer span.End()

	useCache := p.cfg.Cache.Enabled && p.cfg.Cache.Retrieval
	key := cache.Key("retrieval",
		fmt.Sprintf("%s:%d", p.cfg.Retriever.SearchMethod, p.cfg.Retriever.TopK),
		cache.HashString(question))

	if useCache {
		if cached, ok := cache.SafeGet(ctx, p.cache, key); ok {
			if chunks, ok := cached.([]datatypes.RetrievedChunk); ok {
				p.metrics.ObserveCache("retrieval", true)
				return chunks, true, nil
			}
		}
		p.metrics.ObserveCache("retrieval", false)
	}

	chunks, err := resilience.Do(ctx, p.retrievalGuard, "retrieval",
		func(ctx context.Context) ([]datatypes.RetrievedChunk, error) {
			return p.retriever.Retrieve(ctx, question)
		})
	if err != nil {
		return nil, false, err
	}

	chunks = RepairOffsets(chunks)
	if useCache {
		cache.SafeSet(ctx, p.cache, key, chunks, p.cfg.Cache.TTL)
	}
	return chunks, false, nil
}

// generate runs the generation stage with its read-through cache. The
// cache key covers both the question and the exact context text, so a
// changed retrieval result never serves a stale answer.
func (p *Pipeline) generate(ctx context.Context, question string, chunks []datatypes.RetrievedChunk) (*datatypes.GenerationResult, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.generate")
	defer span.End()

	contextText := buildContextText(chunks)
	useCache := p.cfg.Cache.Enabled && p.cfg.Cache.LLM

	var key string
	if useCache {
		hashed, err := cache.HashObject(map[string]string{
			"question": question,
			"context":  contextText,
		})
		if err == nil {
			key = cache.Key("llm", "response", hashed)
			if cached, ok := cache.SafeGet(ctx, p.cache, key); ok {
				// Cached answers carry no token accounting: no tokens
				// were spent serving them.
				if answer, ok := cached.(string); ok {
					p.metrics.ObserveCache("llm", true)
					return &datatypes.GenerationResult{
						Answer:   answer,
						CacheHit: true,
					}, nil
				}
			}
			p.metrics.ObserveCache("llm", false)
		}
	}

	output, err := resilience.Do(ctx, p.generationGuard, "generation",
		func(ctx context.Context) (*backends.GenerationOutput, error) {
			return p.generator.Generate(ctx, question, contextText)
		})
	if err != nil {
		return nil, err
	}

	usage := output.Usage
	if usage == nil {
		usage = ExtractTokenUsage(output.Metadata)
	}
	if usage == nil && p.estimator != nil {
		usage = p.estimator.EstimateUsage(
			fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, question),
			output.Text)
	}

	if useCache && key != "" {
		cache.SafeSet(ctx, p.cache, key, output.Text, p.cfg.Cache.TTL)
	}

	return &datatypes.GenerationResult{
		Answer:     output.Text,
		TokenUsage: usage,
	}, nil
}

// buildContextText joins chunk texts with 1-based citation markers.
func buildContextText(chunks []datatypes.RetrievedChunk) string {
	parts := make([]string, len(chunks))
	for i, chunk := range chunks {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}

func (p *Pipeline) recordRejection(result *datatypes.SafetyResult) {
	p.metrics.ObserveQuery("safety_rejected")
	var reasons []string
	if result.Moderation.Flagged {
		reasons = append(reasons, "moderation")
	}
	if result.InjectionDetected {
		reasons = append(reasons, "injection")
	}
	if result.PII.Detected {
		reasons = append(reasons, "pii")
	}
	p.metrics.ObserveSafetyRejection(reasons...)
}

func (p *Pipeline) recordDependencyFailure(err error) {
	switch {
	case resilience.IsCircuitOpen(err):
		p.metrics.ObserveQuery("circuit_open")
	case resilience.IsTimeout(err):
		p.metrics.ObserveQuery("timeout")
	default:
		p.metrics.ObserveQuery("dependency_error")
	}
}
