// Package evidence records every decision the pipeline makes about a query
// as an ordered, append-only chain. The chain is the artifact a reviewer
// replays to see why an answer, extract, or refusal was produced.
package evidence

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Stage names one decision point. Every query's chain ends with exactly one
// terminal entry.
type Stage string

const (
	StageRouter         Stage = "router"
	StageInjection      Stage = "injection"
	StageRetrievalRaw   Stage = "retrieval_raw"
	StageRetrievalFused Stage = "retrieval_fused"
	StageRerank         Stage = "rerank"
	StageDomainCap      Stage = "domain_cap"
	StageConfidenceGate Stage = "confidence_gate"
	StageLLM            Stage = "llm"
	StageAudit          Stage = "audit"
	StageTerminal       Stage = "terminal"
)

// Entry is one recorded decision.
type Entry struct {
	QueryID string          `json:"query_id"`
	Seq     int             `json:"seq"`
	Stage   Stage           `json:"stage"`
	At      time.Time       `json:"at"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Chain accumulates entries for one query in decision order. Not safe for
// concurrent use; each query owns its chain.
type Chain struct {
	queryID string
	entries []Entry
	sealed  bool
	started time.Time
}

// NewChain starts a chain with a fresh query id.
func NewChain() *Chain {
	return &Chain{
		queryID: uuid.NewString(),
		started: time.Now().UTC(),
	}
}

// QueryID returns the chain's query identifier.
func (c *Chain) QueryID() string { return c.queryID }

// Add appends a stage entry. The payload is marshaled immediately so later
// mutation of the source value cannot rewrite history. Marshal failures
// record the stage with a null payload rather than dropping the decision.
func (c *Chain) Add(stage Stage, payload any) {
	if c.sealed {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	c.entries = append(c.entries, Entry{
		QueryID: c.queryID,
		Seq:     len(c.entries),
		Stage:   stage,
		At:      time.Now().UTC(),
		Data:    raw,
	})
	if stage == StageTerminal {
		c.sealed = true
	}
}

// Entries returns the recorded chain in order.
func (c *Chain) Entries() []Entry { return c.entries }

// Sealed reports whether a terminal entry has been recorded.
func (c *Chain) Sealed() bool { return c.sealed }

// Elapsed is the wall time since the chain was opened.
func (c *Chain) Elapsed() time.Duration { return time.Since(c.started) }
