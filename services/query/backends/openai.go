// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/DriftlineAI/driftline/services/query/datatypes"
)

// systemPrompt grounds the model in the retrieved context and nothing
// else. Kept short on purpose: longer grounding preambles measurably
// increased refusal rates without improving faithfulness.
const systemPrompt = "You are a helpful assistant. Answer the question using ONLY the provided context. " +
	"If the context does not contain the answer, say you couldn't find relevant information."

// OpenAIGenerator implements Generator on the OpenAI chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator for the given model.
func NewOpenAIGenerator(client *openai.Client, model string) *OpenAIGenerator {
	slog.Info("initializing OpenAI generation backend", "model", model)
	return &OpenAIGenerator{client: client, model: model}
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, question string, contextText string) (*GenerationOutput, error) {
	prompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, question)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	out := &GenerationOutput{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
	}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &datatypes.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// OpenAIModeration adapts the OpenAI moderations endpoint to the
// safety gate's ModerationBackend interface.
type OpenAIModeration struct {
	client *openai.Client
}

// NewOpenAIModeration creates a moderation backend.
func NewOpenAIModeration(client *openai.Client) *OpenAIModeration {
	return &OpenAIModeration{client: client}
}

// Moderate implements safety.ModerationBackend. The SDK's typed category
// structs are flattened into maps via a JSON round-trip so the result
// shape stays stable regardless of which categories the API adds.
func (m *OpenAIModeration) Moderate(ctx context.Context, text string) (datatypes.ModerationResult, error) {
	resp, err := m.client.Moderations(ctx, openai.ModerationRequest{Input: text})
	if err != nil {
		return datatypes.ModerationResult{}, fmt.Errorf("moderation call failed: %w", err)
	}
	if len(resp.Results) == 0 {
		return datatypes.ModerationResult{}, fmt.Errorf("moderation returned no results")
	}

	result := resp.Results[0]
	categories, err := structToMap[bool](result.Categories)
	if err != nil {
		return datatypes.ModerationResult{}, fmt.Errorf("failed to flatten moderation categories: %w", err)
	}
	scores, err := structToMap[float64](result.CategoryScores)
	if err != nil {
		return datatypes.ModerationResult{}, fmt.Errorf("failed to flatten moderation scores: %w", err)
	}

	return datatypes.ModerationResult{
		Flagged:        result.Flagged,
		Categories:     categories,
		CategoryScores: scores,
	}, nil
}

// structToMap flattens a json-tagged struct into map[string]V.
func structToMap[V any](v any) (map[string]V, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]V)
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenAIEmbedder implements Embedder on the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder for the given embedding model.
func NewOpenAIEmbedder(client *openai.Client, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model}
}

// Embed implements Embedder for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch implements Embedder for a batch of texts. The response is
// ordered by the API to match the input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
