// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backends holds the external dependency boundaries of the query
// pipeline: retrieval, generation, moderation and embeddings.
//
// Implementations here make plain calls and return plain errors. They are
// NOT resilience-wrapped internally: the pipeline owns the
// breaker/retry/timeout stack so that policy lives in one place and can
// differ per stage.
package backends

import (
	"context"

	"github.com/DriftlineAI/driftline/services/query/datatypes"
)

// Retriever returns supporting chunks for a query string.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]datatypes.RetrievedChunk, error)
}

// GenerationOutput is one generation backend response.
//
// Usage is set when the backend reports token accounting in a structured
// way. Metadata carries the raw response metadata for backends that only
// expose usage loosely; the pipeline sniffs it with an ordered strategy
// list and finally falls back to client-side estimation.
type GenerationOutput struct {
	Text     string
	Model    string
	Usage    *datatypes.TokenUsage
	Metadata map[string]any
}

// Generator produces an answer grounded in the supplied context text.
type Generator interface {
	Generate(ctx context.Context, question string, contextText string) (*GenerationOutput, error)
}

// Embedder turns text into vectors for nearest-neighbor search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
