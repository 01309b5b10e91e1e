package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/groundline/groundline/pkg/audit"
	"github.com/groundline/groundline/pkg/corpus"
	"github.com/groundline/groundline/pkg/evidence"
	"github.com/groundline/groundline/pkg/llm"
	"github.com/groundline/groundline/pkg/retrieve"
	"github.com/groundline/groundline/pkg/risk"
)

const snippetMaxRunes = 600

// Ask runs one question through the full pipeline and returns exactly one
// response. Only retrieval failures and genuinely unexpected conditions
// surface as errors; everything else maps to a response variant. The
// evidence chain is recorded on every path, including errors.
func (rt *Runtime) Ask(ctx context.Context, question string, opts AskOptions) (*Response, error) {
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	if opts.DeadlineMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.DeadlineMS)*time.Millisecond)
		defer cancel()
	}

	chain := evidence.NewChain()
	defer rt.recorder.Record(chain)

	// Triage first: nothing else runs on a refused question.
	action, assessment, inj := rt.assessor.Triage(question)
	chain.Add(evidence.StageInjection, struct {
		Injection risk.InjectionReport `json:"injection"`
		Risk      risk.Assessment      `json:"risk"`
	}{inj, assessment})

	if action.Kind == risk.ActionRefuse {
		return rt.refuse(chain, action), nil
	}
	qClean := action.CleanQuestion

	inf := rt.router.Route(ctx, qClean)
	chain.Add(evidence.StageRouter, inf)

	domainFilter := opts.DomainFilterOverride
	if domainFilter == nil && inf.FilterApplied {
		domainFilter = inf.FilteredDomains
	}

	bmIdx, err := rt.bm.Get(ctx)
	if err != nil {
		chain.Add(evidence.StageTerminal, terminalRecord{Variant: "error", Cause: err.Error()})
		return nil, fmt.Errorf("bm25 index: %w", err)
	}

	res, err := rt.retr.Retrieve(ctx, qClean, bmIdx, domainFilter, retrieve.Options{
		KInitial:     pick(opts.KInitial, rt.cfg.KInitial),
		TopN:         pick(opts.TopN, rt.cfg.TopN),
		RRFC:         rt.cfg.RRFC,
		MMRLambda:    rt.cfg.MMRLambda,
		MaxPerDomain: rt.cfg.MaxPerDomain,
	})
	if err != nil {
		chain.Add(evidence.StageTerminal, terminalRecord{Variant: "error", Cause: err.Error()})
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	recordRetrieval(chain, res)

	if len(res.Candidates) == 0 {
		chain.Add(evidence.StageConfidenceGate, gateRecord{
			Confidence: 0,
			Threshold:  rt.cfg.ConfidenceThreshold,
			Mode:       opts.Mode,
			Decision:   DecisionExtractive,
			Reason:     ReasonLowConfidence,
		})
		return rt.extractive(chain, nil, ReasonLowConfidence), nil
	}

	gate := decide(res.Confidence, rt.cfg.ConfidenceThreshold, opts.Mode, rt.cfg.StrictMode)
	chain.Add(evidence.StageConfidenceGate, gate)

	if gate.Decision == DecisionExtractive {
		return rt.extractive(chain, res.Candidates, gate.Reason), nil
	}

	if rt.provider == nil {
		chain.Add(evidence.StageLLM, llmRecord{Err: llm.ErrUnavailable.Error()})
		return rt.extractive(chain, res.Candidates, ReasonLLMUnavailable), nil
	}

	release, err := rt.beginGenerate(ctx)
	if err != nil {
		if errors.Is(err, errQueueFull) {
			chain.Add(evidence.StageLLM, llmRecord{Err: "queue full"})
			return rt.extractive(chain, res.Candidates, ReasonOverload), nil
		}
		chain.Add(evidence.StageLLM, llmRecord{Err: err.Error()})
		return rt.extractive(chain, res.Candidates, ReasonLLMUnavailable), nil
	}
	completion, genErr := rt.provider.Generate(ctx, llm.Request{
		System:      systemInstruction,
		Prompt:      buildPrompt(res.Candidates, qClean),
		MaxTokens:   rt.cfg.LLMMaxTokens,
		Temperature: rt.cfg.LLMTemperature,
	})
	release()

	if genErr != nil || strings.TrimSpace(completion.Text) == "" {
		rec := llmRecord{FinishReason: completion.FinishReason}
		if genErr != nil {
			rec.Err = genErr.Error()
		} else {
			rec.Err = "empty generation"
		}
		chain.Add(evidence.StageLLM, rec)
		return rt.extractive(chain, res.Candidates, ReasonLLMUnavailable), nil
	}
	chain.Add(evidence.StageLLM, llmRecord{
		FinishReason: completion.FinishReason,
		Chars:        len(completion.Text),
	})

	passages := make([]audit.Passage, len(res.Candidates))
	for i, c := range res.Candidates {
		passages[i] = audit.Passage{ChunkID: c.ChunkID, Text: c.Chunk.Text}
	}
	report, auditErr := rt.auditor.Audit(ctx, completion.Text, passages)
	if auditErr != nil {
		chain.Add(evidence.StageAudit, struct {
			Err string `json:"err"`
		}{auditErr.Error()})
		return rt.extractive(chain, res.Candidates, ReasonAuditError), nil
	}
	chain.Add(evidence.StageAudit, report)

	if gate.Decision == DecisionLLMThenAudit && report.Status != audit.StatusFullyCited {
		return rt.extractive(chain, res.Candidates, ReasonStrictRejected), nil
	}

	answer := &Answer{
		Text:       completion.Text,
		Confidence: res.Confidence,
		Citations:  citations(report, res.Candidates),
		Audit:      report,
	}
	chain.Add(evidence.StageTerminal, terminalRecord{Variant: string(KindAnswer)})
	return &Response{QueryID: chain.QueryID(), Kind: KindAnswer, Answer: answer}, nil
}

type terminalRecord struct {
	Variant string `json:"variant"`
	Reason  string `json:"reason,omitempty"`
	Cause   string `json:"cause,omitempty"`
}

type llmRecord struct {
	FinishReason string `json:"finish_reason,omitempty"`
	Chars        int    `json:"chars,omitempty"`
	Err          string `json:"err,omitempty"`
}

func (rt *Runtime) refuse(chain *evidence.Chain, action risk.Action) *Response {
	chain.Add(evidence.StageTerminal, terminalRecord{
		Variant: string(KindRefusal),
		Reason:  action.RefuseReason,
	})
	return &Response{
		QueryID: chain.QueryID(),
		Kind:    KindRefusal,
		Refusal: &Refusal{
			Reason:          action.RefuseReason,
			Message:         action.Message,
			MatchedPatterns: action.MatchedPatterns,
		},
	}
}

func (rt *Runtime) extractive(chain *evidence.Chain, cands []retrieve.Candidate, reason string) *Response {
	snippets := make([]Snippet, 0, len(cands))
	for _, c := range cands {
		snippets = append(snippets, Snippet{
			Text:    corpus.SafeSnippet(c.Chunk.Text, snippetMaxRunes),
			ChunkID: c.ChunkID,
			Source:  c.Chunk.Source,
			Page:    c.Chunk.Page,
			Score:   c.NormScore,
		})
	}
	chain.Add(evidence.StageTerminal, terminalRecord{
		Variant: string(KindExtractive),
		Reason:  reason,
	})
	return &Response{
		QueryID:    chain.QueryID(),
		Kind:       KindExtractive,
		Extractive: &Extractive{Snippets: snippets, Reason: reason},
	}
}

func recordRetrieval(chain *evidence.Chain, res *retrieve.Result) {
	chain.Add(evidence.StageRetrievalRaw, struct {
		Vector       []retrieve.ScoredID `json:"vector,omitempty"`
		BM25         []retrieve.ScoredID `json:"bm25,omitempty"`
		EmbedderDown bool                `json:"embedder_down,omitempty"`
	}{res.Trace.VectorRaw, res.Trace.BM25Raw, res.Trace.EmbedderDown})
	chain.Add(evidence.StageRetrievalFused, struct {
		Fused            []retrieve.ScoredID `json:"fused"`
		FilterApplied    bool                `json:"filter_applied"`
		FilterDowngraded bool                `json:"filter_downgraded,omitempty"`
	}{res.Trace.Fused, res.Trace.FilterApplied, res.Trace.FilterDowngraded})
	if res.Trace.RerankApplied {
		chain.Add(evidence.StageRerank, struct {
			Applied bool `json:"applied"`
		}{true})
	}
	chain.Add(evidence.StageDomainCap, struct {
		MMRApplied bool     `json:"mmr_applied"`
		Skipped    []string `json:"skipped,omitempty"`
		Final      []string `json:"final"`
		Confidence float64  `json:"confidence"`
	}{res.Trace.MMRApplied, res.Trace.DomainCapSkipped, candidateIDs(res.Candidates), res.Confidence})
}

func candidateIDs(cands []retrieve.Candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ChunkID
	}
	return ids
}

// citations collects the chunks that actually supported claims, in retrieved
// order; when no claim resolved to a chunk it falls back to the full final
// set so the answer is never presented without provenance.
func citations(report audit.Report, cands []retrieve.Candidate) []Citation {
	supported := make(map[string]bool)
	for _, cl := range report.Claims {
		if cl.Supported && cl.BestChunkID != "" {
			supported[cl.BestChunkID] = true
		}
	}
	out := make([]Citation, 0, len(supported))
	for _, c := range cands {
		if supported[c.ChunkID] {
			out = append(out, Citation{ChunkID: c.ChunkID, Source: c.Chunk.Source, Page: c.Chunk.Page})
		}
	}
	if len(out) == 0 {
		for _, c := range cands {
			out = append(out, Citation{ChunkID: c.ChunkID, Source: c.Chunk.Source, Page: c.Chunk.Page})
		}
	}
	return out
}

func pick(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
