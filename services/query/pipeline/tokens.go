// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/DriftlineAI/driftline/services/query/datatypes"
)

// usageLocations is the ordered list of places a backend may have stashed
// token accounting in its loose response metadata. Backends normalize
// differently, so each location is tried in order and the first map that
// yields any nonzero count wins.
var usageLocations = []func(md map[string]any) map[string]any{
	func(md map[string]any) map[string]any { return nestedMap(md, "response_metadata", "usage") },
	func(md map[string]any) map[string]any { return nestedMap(md, "response_metadata", "token_usage") },
	func(md map[string]any) map[string]any { return nestedMap(md, "response_metadata", "usage_metadata") },
	func(md map[string]any) map[string]any { return nestedMap(md, "usage") },
	func(md map[string]any) map[string]any { return nestedMap(md, "llmOutput", "tokenUsage") },
}

func nestedMap(md map[string]any, path ...string) map[string]any {
	current := md
	for _, key := range path {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

// intField reads an integer from a loose map under either a camelCase or
// snake_case key. JSON decoding produces float64, so both are accepted.
func intField(m map[string]any, camel, snake string) int {
	for _, key := range []string{camel, snake} {
		switch v := m[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

// ExtractTokenUsage sniffs loose generation metadata for token counts.
// Returns nil when no location yields a usable count; the caller then
// falls back to client-side estimation.
func ExtractTokenUsage(metadata map[string]any) *datatypes.TokenUsage {
	if metadata == nil {
		return nil
	}
	for _, locate := range usageLocations {
		m := locate(metadata)
		if m == nil {
			continue
		}
		usage := datatypes.TokenUsage{
			PromptTokens:     intField(m, "promptTokens", "prompt_tokens"),
			CompletionTokens: intField(m, "completionTokens", "completion_tokens"),
			TotalTokens:      intField(m, "totalTokens", "total_tokens"),
		}
		if usage.PromptTokens > 0 || usage.CompletionTokens > 0 || usage.TotalTokens > 0 {
			if usage.TotalTokens == 0 {
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			}
			return &usage
		}
	}
	return nil
}

// TokenEstimator approximates token counts client-side when the backend
// reports none.
type TokenEstimator interface {
	EstimateUsage(prompt, completion string) *datatypes.TokenUsage
}

// TiktokenEstimator estimates with the model's BPE encoding, falling back
// to the gpt-4o encoding for models tiktoken does not know.
type TiktokenEstimator struct {
	model string
}

// NewTiktokenEstimator creates an estimator for the given model.
func NewTiktokenEstimator(model string) *TiktokenEstimator {
	return &TiktokenEstimator{model: model}
}

// Per-message overhead in OpenAI's chat format: 4 tokens for the message
// object structure plus 2 for the role label.
const chatMessageOverhead = 4 + 2

func (e *TiktokenEstimator) encoding() (*tiktoken.Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(e.model)
	if err != nil {
		slog.Debug("Unknown model for token estimation, using gpt-4o encoding",
			"model", e.model, "error", err)
		return tiktoken.EncodingForModel("gpt-4o")
	}
	return enc, nil
}

// EstimateUsage implements TokenEstimator. Returns nil if the encoding
// cannot be loaded; estimation is best effort.
func (e *TiktokenEstimator) EstimateUsage(prompt, completion string) *datatypes.TokenUsage {
	enc, err := e.encoding()
	if err != nil {
		slog.Debug("Token estimation unavailable", "error", err)
		return nil
	}

	promptTokens := len(enc.Encode(prompt, nil, nil)) + chatMessageOverhead*2
	completionTokens := len(enc.Encode(completion, nil, nil))
	return &datatypes.TokenUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
