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

	"github.com/DriftlineAI/driftline/services/query/resilience"
)

// GuardedEmbedder runs every embedding call under the "embeddings"
// resilience guard, so an embeddings outage opens its own breaker
// instead of masquerading as a retrieval failure.
//
// Single and batch calls share one breaker but carry different
// timeouts: batches get the longer bulk budget.
type GuardedEmbedder struct {
	inner  Embedder
	single *resilience.Guard
	bulk   *resilience.Guard
}

// NewGuardedEmbedder wraps inner with guard. bulkTimeout bounds
// multi-text batches; zero falls back to the guard's own timeout.
func NewGuardedEmbedder(inner Embedder, guard *resilience.Guard, bulkTimeout time.Duration) *GuardedEmbedder {
	bulk := guard
	if bulkTimeout > 0 {
		bulk = &resilience.Guard{
			Breaker: guard.Breaker,
			Retry:   guard.Retry,
			Timeout: bulkTimeout,
		}
	}
	return &GuardedEmbedder{inner: inner, single: guard, bulk: bulk}
}

// Embed implements Embedder.
func (e *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return resilience.Do(ctx, e.single, "embeddings",
		func(ctx context.Context) ([]float32, error) {
			return e.inner.Embed(ctx, text)
		})
}

// EmbedBatch implements Embedder.
func (e *GuardedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return resilience.Do(ctx, e.bulk, "embeddings",
		func(ctx context.Context) ([][]float32, error) {
			return e.inner.EmbedBatch(ctx, texts)
		})
}
