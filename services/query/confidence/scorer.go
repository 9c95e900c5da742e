// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package confidence derives a 0-1 confidence value and qualitative level
// for a generated answer from retrieval scores, document coverage, and
// answer text heuristics. Scoring is pure computation; it makes no
// external calls and is best-effort annotation, never a correctness gate.
package confidence

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/DriftlineAI/driftline/services/query/datatypes"
)

// Factor weights. They sum to 1 so the overall score stays in [0, 1].
const (
	weightRetrieval     = 0.35
	weightRelevance     = 0.30
	weightCoverage      = 0.15
	weightAnswerQuality = 0.20
)

// Factors are the raw inputs to one scoring pass.
type Factors struct {
	SimilarityScores []float64
	DocumentCount    int
	TopK             int
	AnswerText       string
	RetrievalMethod  string
}

// Thresholds are the ordered level cut points (low < medium < high).
type Thresholds struct {
	Low    float64
	Medium float64
	High   float64
}

// uncertaintyPhrases are substring-matched against the lowercased answer.
var uncertaintyPhrases = []string{
	"i couldn't find",
	"i don't know",
	"i'm not sure",
	"i cannot",
	"i can't",
	"unclear",
	"uncertain",
	"based on limited information",
	"may not be",
	"might not",
	"possibly",
	"perhaps",
}

// uncertaintyWords are matched on word boundaries so "maybe" doesn't fire
// inside "baymayberry"-style tokens.
var uncertaintyWordPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmay\b`),
	regexp.MustCompile(`(?i)\bmight\b`),
	regexp.MustCompile(`(?i)\bpossibly\b`),
	regexp.MustCompile(`(?i)\bperhaps\b`),
	regexp.MustCompile(`(?i)\bmaybe\b`),
	regexp.MustCompile(`(?i)\bunclear\b`),
	regexp.MustCompile(`(?i)\buncertain\b`),
}

// noInfoPatterns identify canned "nothing found" answers, which cap
// answer quality at 0.1 regardless of other signals.
var noInfoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i couldn't find`),
	regexp.MustCompile(`(?i)i don't know`),
	regexp.MustCompile(`(?i)no relevant information`),
	regexp.MustCompile(`(?i)couldn't find relevant`),
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func detectUncertaintyMarkers(answer string) int {
	lower := strings.ToLower(answer)
	count := 0
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(lower, phrase) {
			count++
		}
	}
	for _, pattern := range uncertaintyWordPatterns {
		if pattern.MatchString(answer) {
			count++
		}
	}
	return count
}

// answerQualityScore rates the answer text alone: 0.1 for "no info"
// answers, then a length band (very short answers cap at 0.3, short at
// 0.6, very long at 0.8) minus an uncertainty penalty of 0.15 per
// detected marker, capped at 0.5.
func answerQualityScore(answer string) float64 {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return 0.0
	}

	for _, pattern := range noInfoPatterns {
		if pattern.MatchString(answer) {
			return 0.1
		}
	}

	penalty := float64(detectUncertaintyMarkers(answer)) * 0.15
	if penalty > 0.5 {
		penalty = 0.5
	}

	lengthScore := 1.0
	switch n := len(trimmed); {
	case n < 20:
		lengthScore = 0.3
	case n < 50:
		lengthScore = 0.6
	case n > 2000:
		lengthScore = 0.8
	}

	return clamp01(lengthScore - penalty)
}

// Score computes the confidence for one answered query.
//
// # Description
//
// overall = 0.35*retrieval + 0.30*relevance + 0.15*coverage +
// 0.20*answerQuality, where retrieval is the mean of the clamped
// similarity scores, relevance the max, and coverage
// min(1, documentCount/topK). Zero retrieved documents short-circuit to
// overall 0 and level very_low. The level comes from the ordered
// thresholds; the explanation names whichever factors dragged the score
// down.
func Score(f Factors, t Thresholds) datatypes.ConfidenceScore {
	quality := answerQualityScore(f.AnswerText)

	if f.DocumentCount == 0 || len(f.SimilarityScores) == 0 {
		return datatypes.ConfidenceScore{
			Overall: 0.0,
			Level:   datatypes.ConfidenceVeryLow,
			Factors: &datatypes.ConfidenceFactors{
				Retrieval:     0.0,
				Relevance:     0.0,
				Coverage:      0.0,
				AnswerQuality: quality,
			},
			Explanation: "No relevant documents were retrieved",
		}
	}

	var sum, maxScore float64
	for _, raw := range f.SimilarityScores {
		score := clamp01(raw)
		sum += score
		if score > maxScore {
			maxScore = score
		}
	}
	retrieval := sum / float64(len(f.SimilarityScores))
	relevance := maxScore

	coverage := 1.0
	if f.TopK > 0 {
		coverage = float64(f.DocumentCount) / float64(f.TopK)
		if coverage > 1 {
			coverage = 1
		}
	}

	overall := retrieval*weightRetrieval +
		relevance*weightRelevance +
		coverage*weightCoverage +
		quality*weightAnswerQuality

	var level datatypes.ConfidenceLevel
	switch {
	case overall >= t.High:
		level = datatypes.ConfidenceHigh
	case overall >= t.Medium:
		level = datatypes.ConfidenceMedium
	case overall >= t.Low:
		level = datatypes.ConfidenceLow
	default:
		level = datatypes.ConfidenceVeryLow
	}

	return datatypes.ConfidenceScore{
		Overall:     clamp01(overall),
		Level:       level,
		Factors:     &datatypes.ConfidenceFactors{
			Retrieval:     clamp01(retrieval),
			Relevance:     clamp01(relevance),
			Coverage:      clamp01(coverage),
			AnswerQuality: clamp01(quality),
		},
		Explanation: buildExplanation(retrieval, coverage, quality),
	}
}

func buildExplanation(retrieval, coverage, quality float64) string {
	var parts []string

	switch {
	case retrieval >= 0.8:
		parts = append(parts, "highly relevant documents")
	case retrieval >= 0.6:
		parts = append(parts, "moderately relevant documents")
	default:
		parts = append(parts, "limited document relevance")
	}

	if coverage < 0.8 {
		parts = append(parts, "incomplete context coverage")
	}
	if quality < 0.6 {
		parts = append(parts, "answer contains uncertainty indicators")
	}

	if len(parts) == 1 && retrieval >= 0.8 {
		return "high confidence across all factors"
	}
	return strings.Join(parts, ", ")
}

// ExtractSimilarityScores pulls a similarity score out of each chunk.
//
// The chunk's own SimilarityScore field wins when set; otherwise the
// metadata is sniffed under the usual key aliases, and a chunk with no
// recognizable score at all contributes a neutral 0.5.
func ExtractSimilarityScores(chunks []datatypes.RetrievedChunk) []float64 {
	scores := make([]float64, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.SimilarityScore > 0 {
			scores = append(scores, chunk.SimilarityScore)
			continue
		}
		scores = append(scores, sniffMetadataScore(chunk.Metadata))
	}
	return scores
}

// metadataScoreKeys is the alias priority order for score sniffing.
var metadataScoreKeys = []string{
	"similarityScore", "score", "similarity", "relevanceScore", "relevance",
}

func sniffMetadataScore(metadata map[string]any) float64 {
	for _, key := range metadataScoreKeys {
		raw, ok := metadata[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		case int:
			return float64(v)
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return parsed
			}
		}
	}
	return 0.5
}
