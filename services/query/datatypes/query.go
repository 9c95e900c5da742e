package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// ConfidenceLevel is the coarse confidence bucket attached to a response.
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "high"
	ConfidenceMedium  ConfidenceLevel = "medium"
	ConfidenceLow     ConfidenceLevel = "low"
	ConfidenceVeryLow ConfidenceLevel = "very_low"
)

// QueryRequest is the inbound payload for POST /query.
type QueryRequest struct {
	Question string `json:"question"`
}

// TokenUsage carries token accounting for one generation call.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// RetrievedChunk is one contiguous span of source text with provenance.
//
// Invariant after offset repair: EndChar > StartChar >= 1.
type RetrievedChunk struct {
	Id              string         `json:"id"`
	Text            string         `json:"text"`
	Index           int            `json:"index"`
	SourceId        string         `json:"sourceId"`
	StartChar       int            `json:"startChar"`
	EndChar         int            `json:"endChar"`
	SimilarityScore float64        `json:"similarityScore"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ModerationResult is the normalized output of a moderation backend.
type ModerationResult struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// FlaggedCategories returns the category names the moderation backend flagged.
func (m ModerationResult) FlaggedCategories() []string {
	var flagged []string
	for category, isFlagged := range m.Categories {
		if isFlagged {
			flagged = append(flagged, category)
		}
	}
	return flagged
}

// PIIDetection reports pattern-matched PII in the question, keyed by
// detector type (email, phone, ssn, ...).
type PIIDetection struct {
	Detected bool                `json:"detected"`
	Types    map[string][]string `json:"types"`
}

// SafetyResult is produced once per query by the safety gate.
type SafetyResult struct {
	Safe              bool             `json:"safe"`
	Moderation        ModerationResult `json:"moderation"`
	InjectionDetected bool             `json:"injectionDetected"`
	PII               PIIDetection     `json:"pii"`
	SanitizedQuestion string           `json:"sanitizedQuestion,omitempty"`
}

// AllClearSafetyResult returns the synthetic result used when the safety
// gate is disabled by configuration.
func AllClearSafetyResult() *SafetyResult {
	return &SafetyResult{
		Safe: true,
		Moderation: ModerationResult{
			Flagged:        false,
			Categories:     map[string]bool{},
			CategoryScores: map[string]float64{},
		},
		InjectionDetected: false,
		PII:               PIIDetection{Detected: false, Types: map[string][]string{}},
	}
}

// GenerationResult is the outcome of the generation stage.
type GenerationResult struct {
	Answer     string      `json:"answer"`
	TokenUsage *TokenUsage `json:"tokenUsage,omitempty"`
	CacheHit   bool        `json:"cacheHit"`
}

// ConfidenceFactors breaks the overall confidence score into its inputs.
type ConfidenceFactors struct {
	Retrieval     float64 `json:"retrieval"`
	Relevance     float64 `json:"relevance"`
	Coverage      float64 `json:"coverage"`
	AnswerQuality float64 `json:"answerQuality"`
}

// ConfidenceScore is the 0-1 confidence value plus its qualitative level.
type ConfidenceScore struct {
	Overall     float64            `json:"score"`
	Level       ConfidenceLevel    `json:"level"`
	Factors     *ConfidenceFactors `json:"factors,omitempty"`
	Explanation string             `json:"explanation,omitempty"`
}

// StageTimings records per-stage wall time for one query.
type StageTimings struct {
	SafetyCheckMs   int64 `json:"safetyCheckMs,omitempty"`
	RetrievalMs     int64 `json:"retrievalMs"`
	LLMGenerationMs int64 `json:"llmGenerationMs,omitempty"`
	TotalMs         int64 `json:"totalMs"`
}

// CacheInfo records which cacheable stages were served from cache.
type CacheInfo struct {
	EmbeddingsHit bool `json:"embeddingsHit,omitempty"`
	RetrievalHit  bool `json:"retrievalHit"`
	LLMHit        bool `json:"llmHit"`
}

// ResponseMetadata is the provenance and telemetry block of a QueryResponse.
type ResponseMetadata struct {
	SearchMethod string           `json:"searchMethod"`
	TopK         int              `json:"topK"`
	Model        string           `json:"model"`
	SearchTimeMs int64            `json:"searchTimeMs"`
	TokenUsage   *TokenUsage      `json:"tokenUsage,omitempty"`
	Timings      StageTimings     `json:"timings"`
	Cache        CacheInfo        `json:"cache"`
	Confidence   *ConfidenceScore `json:"confidence,omitempty"`
}

// SafetySummary is the externally visible slice of the SafetyResult.
type SafetySummary struct {
	Safe              bool     `json:"safe"`
	ModerationFlagged bool     `json:"moderationFlagged"`
	InjectionDetected bool     `json:"injectionDetected"`
	PIIDetected       bool     `json:"piiDetected"`
	FlaggedCategories []string `json:"flaggedCategories,omitempty"`
}

// QueryResponse is the sole externally visible artifact of one query.
// It is immutable after construction.
type QueryResponse struct {
	Id            string           `json:"id"`
	UserQuestion  string           `json:"user_question"`
	SystemAnswer  string           `json:"system_answer"`
	ChunksRelated []RetrievedChunk `json:"chunks_related"`
	Metadata      ResponseMetadata `json:"metadata"`
	Safety        SafetySummary    `json:"safety"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NewQueryResponse allocates a response shell with a fresh id and timestamp.
// The pipeline fills in the remaining fields before returning it.
func NewQueryResponse(question string) *QueryResponse {
	return &QueryResponse{
		Id:            uuid.New().String(),
		UserQuestion:  question,
		ChunksRelated: []RetrievedChunk{},
		CreatedAt:     time.Now().UTC(),
	}
}
