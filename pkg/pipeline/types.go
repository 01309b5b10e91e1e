// Package pipeline orchestrates one question through triage, routing,
// hybrid retrieval, confidence gating, optional generation, and citation
// audit, emitting exactly one response and one evidence chain per query.
package pipeline

import (
	"github.com/groundline/groundline/pkg/audit"
)

// Kind tags the response variant. Exactly one variant is populated.
type Kind string

const (
	KindAnswer     Kind = "answer"
	KindExtractive Kind = "extractive"
	KindRefusal    Kind = "refusal"
)

// Reasons an extractive response was returned instead of a generated answer.
const (
	ReasonLowConfidence  = "low_confidence"
	ReasonLLMUnavailable = "llm_unavailable"
	ReasonStrictRejected = "strict_rejected"
	ReasonAuditError     = "audit_error"
	ReasonOverload       = "overload"
	ReasonExtractiveOnly = "extractive_only"
)

// Citation points an answer sentence back to corpus material.
type Citation struct {
	ChunkID string `json:"chunk_id"`
	Source  string `json:"source"`
	Page    int    `json:"page,omitempty"`
}

// Answer is a generated, audited response.
type Answer struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Citations  []Citation   `json:"citations"`
	Audit      audit.Report `json:"audit"`
}

// Snippet is one verbatim passage in an extractive response.
type Snippet struct {
	Text    string  `json:"text"`
	ChunkID string  `json:"chunk_id"`
	Source  string  `json:"source"`
	Page    int     `json:"page,omitempty"`
	Score   float64 `json:"score"`
}

// Extractive is the abstention fallback: top snippets, no synthesis.
type Extractive struct {
	Snippets []Snippet `json:"snippets"`
	Reason   string    `json:"reason"`
}

// Refusal declines to process the question at all.
type Refusal struct {
	Reason          string   `json:"reason"`
	Message         string   `json:"message"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
}

// Response is the tagged result of one query.
type Response struct {
	QueryID    string      `json:"query_id"`
	Kind       Kind        `json:"kind"`
	Answer     *Answer     `json:"answer,omitempty"`
	Extractive *Extractive `json:"extractive,omitempty"`
	Refusal    *Refusal    `json:"refusal,omitempty"`
}

// IsOverload reports whether the response is the extractive degradation
// produced when the generation queue is full. Callers may retry.
func IsOverload(r *Response) bool {
	return r != nil && r.Kind == KindExtractive && r.Extractive != nil && r.Extractive.Reason == ReasonOverload
}

const overloadRetryAfterSeconds = 2

// RetryAfterSeconds suggests a client backoff for overload responses, zero
// otherwise.
func RetryAfterSeconds(r *Response) int {
	if IsOverload(r) {
		return overloadRetryAfterSeconds
	}
	return 0
}

// Mode selects how aggressively generation is used for one query.
type Mode string

const (
	// ModeAuto follows the configured strict-mode default.
	ModeAuto Mode = "auto"
	// ModeStrict requires a fully cited audit before any answer is emitted.
	ModeStrict Mode = "strict"
	// ModeExtractiveOnly never calls the generation provider.
	ModeExtractiveOnly Mode = "extractive_only"
)

// AskOptions tune one query. Zero values defer to configuration.
type AskOptions struct {
	Mode                 Mode
	KInitial             int
	TopN                 int
	DeadlineMS           int
	DomainFilterOverride []string
}
