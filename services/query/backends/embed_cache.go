// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backends

import (
	"context"
	"time"

	"github.com/DriftlineAI/driftline/services/query/cache"
	"github.com/DriftlineAI/driftline/services/query/observability"
)

// cacheTraceKey carries a *CacheTrace through the context.
type cacheTraceKey struct{}

// CacheTrace records which backend caches served a single query, so the
// pipeline can surface embedding cache hits in the response metadata.
// One instance covers one query; it is written at most once per stage
// and read only after the stage returns.
type CacheTrace struct {
	EmbeddingsHit bool
}

// WithCacheTrace attaches a fresh trace to ctx and returns it.
func WithCacheTrace(ctx context.Context) (context.Context, *CacheTrace) {
	trace := &CacheTrace{}
	return context.WithValue(ctx, cacheTraceKey{}, trace), trace
}

// CacheTraceFrom returns the trace attached to ctx, or nil.
func CacheTraceFrom(ctx context.Context) *CacheTrace {
	trace, _ := ctx.Value(cacheTraceKey{}).(*CacheTrace)
	return trace
}

func markEmbeddingsHit(ctx context.Context) {
	if trace := CacheTraceFrom(ctx); trace != nil {
		trace.EmbeddingsHit = true
	}
}

// CachingEmbedder wraps an Embedder with a read-through cache keyed on
// the embedding model and the text content, so switching models never
// serves vectors from the old model's space. Cache failures never fail
// the embedding: a broken cache degrades to always-miss.
type CachingEmbedder struct {
	inner   Embedder
	cache   cache.Cache
	ttl     time.Duration
	model   string
	metrics *observability.QueryMetrics
}

// NewCachingEmbedder wraps inner with c. A nil cache disables caching;
// a nil metrics handle disables cache telemetry.
func NewCachingEmbedder(inner Embedder, c cache.Cache, ttl time.Duration, model string, metrics *observability.QueryMetrics) *CachingEmbedder {
	return &CachingEmbedder{inner: inner, cache: c, ttl: ttl, model: model, metrics: metrics}
}

func (e *CachingEmbedder) key(text string) string {
	return cache.Key("embedding", e.model, cache.HashString(text))
}

// Embed implements Embedder.
func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if cached, ok := cache.SafeGet(ctx, e.cache, key); ok {
		if vector, ok := cached.([]float32); ok {
			e.metrics.ObserveCache("embeddings", true)
			markEmbeddingsHit(ctx)
			return vector, nil
		}
	}
	e.metrics.ObserveCache("embeddings", false)

	vector, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	cache.SafeSet(ctx, e.cache, key, vector, e.ttl)
	return vector, nil
}

// EmbedBatch implements Embedder. Cached entries are reused per text and
// only the misses go to the inner embedder.
func (e *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if cached, ok := cache.SafeGet(ctx, e.cache, e.key(text)); ok {
			if vector, ok := cached.([]float32); ok {
				e.metrics.ObserveCache("embeddings", true)
				vectors[i] = vector
				continue
			}
		}
		e.metrics.ObserveCache("embeddings", false)
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		if len(texts) > 0 {
			markEmbeddingsHit(ctx)
		}
		return vectors, nil
	}

	fetched, err := e.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vector := range fetched {
		vectors[missingIdx[j]] = vector
		cache.SafeSet(ctx, e.cache, e.key(missing[j]), vector, e.ttl)
	}
	return vectors, nil
}
