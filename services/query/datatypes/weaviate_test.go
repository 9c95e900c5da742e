// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// TestParseGraphQLResponse_ChunkQuery verifies a nearVector response maps
// into the typed chunk shape including the _additional block.
func TestParseGraphQLResponse_ChunkQuery(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"DocumentChunk": []any{
					map[string]any{
						"content":    "some chunk text",
						"chunk_id":   "chunk-1",
						"source_id":  "doc-9",
						"start_char": float64(10),
						"end_char":   float64(25),
						"_additional": map[string]any{
							"certainty": 0.91,
						},
					},
				},
			},
		},
	}

	parsed, err := ParseGraphQLResponse[ChunkQueryResponse](resp)
	require.NoError(t, err)

	require.Len(t, parsed.Get.DocumentChunk, 1)
	chunk := parsed.Get.DocumentChunk[0]
	assert.Equal(t, "some chunk text", chunk.Content)
	assert.Equal(t, "chunk-1", chunk.ChunkId)
	assert.Equal(t, "doc-9", chunk.SourceId)
	assert.Equal(t, 10, chunk.StartChar)
	assert.Equal(t, 25, chunk.EndChar)
	assert.InDelta(t, 0.91, chunk.Additional.Certainty, 1e-9)
}

// TestParseGraphQLResponse_Nil verifies a nil response errors rather than
// panicking.
func TestParseGraphQLResponse_Nil(t *testing.T) {
	_, err := ParseGraphQLResponse[ChunkQueryResponse](nil)
	assert.Error(t, err)
}

// TestParseGraphQLResponse_GraphQLError verifies server-side GraphQL errors
// surface as Go errors.
func TestParseGraphQLResponse_GraphQLError(t *testing.T) {
	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class not found"}},
	}

	_, err := ParseGraphQLResponse[ChunkQueryResponse](resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}
