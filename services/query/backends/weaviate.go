// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backends

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/DriftlineAI/driftline/services/query/datatypes"
)

var tracer = otel.Tracer("driftline.query.backends")

// WeaviateRetriever implements Retriever with a nearVector search over the
// document chunk class.
//
// # Description
//
// The query text is embedded through the configured Embedder and the
// resulting vector is searched with certainty requested, which is always
// in [0, 1] regardless of the index distance metric. Certainty is used
// directly as the similarity score on each returned chunk.
//
// # Thread Safety
//
// WeaviateRetriever is safe for concurrent use. The underlying Weaviate
// client handles connection pooling.
type WeaviateRetriever struct {
	client   *weaviate.Client
	embedder Embedder
	class    string
	topK     int
}

// NewWeaviateRetriever creates a retriever over the given class.
func NewWeaviateRetriever(client *weaviate.Client, embedder Embedder, class string, topK int) *WeaviateRetriever {
	if topK < 1 {
		slog.Warn("Invalid topK config, using default", "provided", topK, "default", 5)
		topK = 5
	}
	return &WeaviateRetriever{
		client:   client,
		embedder: embedder,
		class:    class,
		topK:     topK,
	}
}

// Retrieve implements Retriever.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string) ([]datatypes.RetrievedChunk, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.top_k", r.topK))

	// 1. Embed the query text
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// 2. Build the NearVector search
	nearVector := r.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// 3. Define fields to retrieve
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "chunk_id"},
		{Name: "source_id"},
		{Name: "start_char"},
		{Name: "end_char"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	// 4. Execute the search
	result, err := r.client.GraphQL().Get().
		WithClassName(r.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(r.topK).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to search document chunks", "error", err, "class", r.class)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	// 5. Parse the results using the typed parser
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChunkQueryResponse](result)
	if err != nil {
		slog.Error("Failed to parse search results", "error", err)
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	chunks := make([]datatypes.RetrievedChunk, 0, len(parsed.Get.DocumentChunk))
	for i, obj := range parsed.Get.DocumentChunk {
		chunks = append(chunks, datatypes.RetrievedChunk{
			Id:              obj.ChunkId,
			Text:            obj.Content,
			Index:           i,
			SourceId:        obj.SourceId,
			StartChar:       obj.StartChar,
			EndChar:         obj.EndChar,
			SimilarityScore: obj.Additional.Certainty,
			Metadata: map[string]any{
				"similarityScore": obj.Additional.Certainty,
			},
		})
	}

	span.SetAttributes(attribute.Int("retrieval.chunk_count", len(chunks)))
	slog.Debug("Retrieved document chunks", "count", len(chunks), "class", r.class)
	return chunks, nil
}
