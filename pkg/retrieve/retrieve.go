// Package retrieve implements hybrid retrieval: dense vector recall unioned
// with lexical BM25, fused by reciprocal rank, optionally reranked, then
// diversified (MMR + per-domain cap).
package retrieve

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/groundline/groundline/pkg/bm25"
	"github.com/groundline/groundline/pkg/corpus"
	"github.com/groundline/groundline/pkg/embed"
	"github.com/groundline/groundline/pkg/vector"
)

// Reranker re-scores (query, passage) pairs. Availability is a capability
// flag: a nil reranker leaves the fused order standing.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Candidate accumulates scores as it moves through the pipeline stages.
type Candidate struct {
	ChunkID     string  `json:"chunk_id"`
	Domain      string  `json:"domain"`
	VectorScore float64 `json:"vector_score,omitempty"`
	BM25Score   float64 `json:"bm25_score,omitempty"`
	FusedScore  float64 `json:"fused_score"`
	RerankScore float64 `json:"rerank_score,omitempty"`
	Reranked    bool    `json:"reranked,omitempty"`

	// NormScore is the min-max normalized pre-rerank fused score, the
	// basis of retrieval confidence.
	NormScore float64 `json:"norm_score"`

	Chunk corpus.Chunk `json:"-"`
}

// ScoredID is a compact (id, score) pair for evidence traces.
type ScoredID struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// Trace captures per-stage retrieval decisions for the evidence chain.
type Trace struct {
	VectorRaw        []ScoredID `json:"vector_raw,omitempty"`
	BM25Raw          []ScoredID `json:"bm25_raw,omitempty"`
	Fused            []ScoredID `json:"fused"`
	FilterApplied    bool       `json:"filter_applied"`
	FilterDowngraded bool       `json:"filter_downgraded,omitempty"`
	RerankApplied    bool       `json:"rerank_applied"`
	MMRApplied       bool       `json:"mmr_applied"`
	DomainCapSkipped []string   `json:"domain_cap_skipped,omitempty"`
	EmbedderDown     bool       `json:"embedder_down,omitempty"`
}

// Result is the retriever's output for one query.
type Result struct {
	Candidates []Candidate
	Confidence float64
	Trace      Trace
}

// Options bound one retrieval pass. Zero values fall back to the package
// defaults used across the pipeline.
type Options struct {
	KInitial     int
	TopN         int
	RRFC         int
	MMRLambda    float64
	MaxPerDomain int
}

func (o *Options) normalize() {
	if o.KInitial <= 0 {
		o.KInitial = 16
	}
	if o.TopN <= 0 {
		o.TopN = 6
	}
	if o.RRFC <= 0 {
		o.RRFC = 60
	}
	if o.MMRLambda <= 0 || o.MMRLambda > 1 {
		o.MMRLambda = 0.7
	}
	if o.MaxPerDomain <= 0 {
		o.MaxPerDomain = 3
	}
}

// embedderDownConfidenceCap bounds confidence when only the lexical leg ran:
// a single-signal retrieval never clears strict gates on its own.
const embedderDownConfidenceCap = 0.6

// Retriever owns the read-only retrieval legs.
type Retriever struct {
	embedder embed.Embedder // nil = lexical only
	vec      *vector.Index  // nil when embedder is nil
	store    *corpus.Corpus
	reranker Reranker // nil = capability absent
}

// New constructs a retriever. A nil embedder or vector index degrades to
// BM25-only retrieval with capped confidence.
func New(embedder embed.Embedder, vec *vector.Index, store *corpus.Corpus, reranker Reranker) *Retriever {
	return &Retriever{embedder: embedder, vec: vec, store: store, reranker: reranker}
}

// Retrieve runs the full hybrid pipeline for a cleaned question under an
// optional domain filter. The BM25 index is passed per call because the
// pipeline may swap it after a cache rebuild.
func (r *Retriever) Retrieve(ctx context.Context, qClean string, bmIdx *bm25.Index, domainFilter []string, opts Options) (*Result, error) {
	opts.normalize()
	trace := Trace{}

	// Dense leg. Embedder trouble is a degradation, not an error.
	var vecHits []vector.Hit
	if r.embedder != nil && r.vec != nil {
		qvecs, err := r.embedder.Embed(ctx, []string{qClean})
		if err != nil || len(qvecs) == 0 {
			trace.EmbedderDown = true
		} else {
			vecHits, err = r.vec.Search(qvecs[0], opts.KInitial)
			if err != nil {
				trace.EmbedderDown = true
				vecHits = nil
			}
		}
	} else {
		trace.EmbedderDown = true
	}

	// Lexical leg.
	var bmHits []bm25.Hit
	if bmIdx != nil {
		bmHits = bmIdx.Search(bm25.Tokenize(qClean), opts.KInitial)
	}

	if len(vecHits) == 0 && len(bmHits) == 0 {
		return &Result{Candidates: nil, Confidence: 0, Trace: trace}, nil
	}

	for _, h := range vecHits {
		trace.VectorRaw = append(trace.VectorRaw, ScoredID{ChunkID: h.ChunkID, Score: h.Score})
	}
	for _, h := range bmHits {
		trace.BM25Raw = append(trace.BM25Raw, ScoredID{ChunkID: h.ID, Score: h.Score})
	}

	cands := r.fuse(vecHits, bmHits, opts.RRFC)
	if len(cands) == 0 {
		return &Result{Candidates: nil, Confidence: 0, Trace: trace}, nil
	}
	for _, c := range cands {
		trace.Fused = append(trace.Fused, ScoredID{ChunkID: c.ChunkID, Score: c.FusedScore})
	}

	// Domain filter with downgrade: the router never empties the set.
	if len(domainFilter) > 0 {
		trace.FilterApplied = true
		filtered := make([]Candidate, 0, len(cands))
		allowed := make(map[string]struct{}, len(domainFilter))
		for _, d := range domainFilter {
			allowed[d] = struct{}{}
		}
		for _, c := range cands {
			if _, ok := allowed[c.Domain]; ok {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) == 0 {
			trace.FilterDowngraded = true
		} else {
			cands = filtered
		}
	}

	// Confidence basis: min-max normalize the pre-rerank fused set.
	normalizeScores(cands)

	// Optional cross-encoder rerank over the head of the fused list.
	if r.reranker != nil {
		if err := r.rerank(ctx, qClean, cands, opts.TopN); err == nil {
			trace.RerankApplied = true
		}
	}

	// Diversify: MMR against embeddings, then per-domain cap. MMR compares
	// stored chunk embeddings only, so it runs whenever the index is present,
	// including on a lexical-only pass.
	if r.vec != nil {
		cands = r.mmr(cands, opts.MMRLambda)
		trace.MMRApplied = true
	}
	final, skipped := capPerDomain(cands, opts.MaxPerDomain, opts.TopN)
	trace.DomainCapSkipped = skipped

	conf := 0.0
	for _, c := range final {
		conf += c.NormScore
	}
	if len(final) > 0 {
		conf /= float64(len(final))
	}
	if trace.EmbedderDown && conf > embedderDownConfidenceCap {
		conf = embedderDownConfidenceCap
	}

	return &Result{Candidates: final, Confidence: conf, Trace: trace}, nil
}

// fuse merges both legs by Reciprocal Rank Fusion with constant c, which
// sidesteps calibrating vector and BM25 score scales against each other.
// Ties break on the sum of component scores, then lexicographic chunk id.
func (r *Retriever) fuse(vecHits []vector.Hit, bmHits []bm25.Hit, c int) []Candidate {
	type acc struct {
		vecRank, bmRank   int // 1-based, 0 = missing
		vecScore, bmScore float64
	}
	merged := make(map[string]*acc)
	for i, h := range vecHits {
		merged[h.ChunkID] = &acc{vecRank: i + 1, vecScore: h.Score}
	}
	for i, h := range bmHits {
		a, ok := merged[h.ID]
		if !ok {
			a = &acc{}
			merged[h.ID] = a
		}
		a.bmRank = i + 1
		a.bmScore = h.Score
	}

	cands := make([]Candidate, 0, len(merged))
	for id, a := range merged {
		chunk, err := r.store.Get(id)
		if err != nil {
			// Index refers to a chunk the corpus no longer carries:
			// exclude rather than surface a dangling citation.
			continue
		}
		fused := 0.0
		if a.vecRank > 0 {
			fused += 1.0 / float64(c+a.vecRank)
		}
		if a.bmRank > 0 {
			fused += 1.0 / float64(c+a.bmRank)
		}
		cands = append(cands, Candidate{
			ChunkID:     id,
			Domain:      chunk.Domain,
			VectorScore: a.vecScore,
			BM25Score:   a.bmScore,
			FusedScore:  fused,
			Chunk:       chunk,
		})
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].FusedScore != cands[j].FusedScore {
			return cands[i].FusedScore > cands[j].FusedScore
		}
		si := cands[i].VectorScore + cands[i].BM25Score
		sj := cands[j].VectorScore + cands[j].BM25Score
		if si != sj {
			return si > sj
		}
		return cands[i].ChunkID < cands[j].ChunkID
	})
	return cands
}

func normalizeScores(cands []Candidate) {
	if len(cands) == 0 {
		return
	}
	minS, maxS := cands[0].FusedScore, cands[0].FusedScore
	for _, c := range cands {
		if c.FusedScore < minS {
			minS = c.FusedScore
		}
		if c.FusedScore > maxS {
			maxS = c.FusedScore
		}
	}
	for i := range cands {
		if maxS > minS {
			cands[i].NormScore = (cands[i].FusedScore - minS) / (maxS - minS)
		} else {
			cands[i].NormScore = 1.0
		}
	}
}

// rerank re-scores the top min(4*topN, len) candidates and replaces their
// fused scores, then restores descending order.
func (r *Retriever) rerank(ctx context.Context, qClean string, cands []Candidate, topN int) error {
	head := 4 * topN
	if head > len(cands) {
		head = len(cands)
	}
	passages := make([]string, head)
	for i := 0; i < head; i++ {
		passages[i] = cands[i].Chunk.Text
	}
	scores, err := r.reranker.Rerank(ctx, qClean, passages)
	if err != nil || len(scores) != head {
		if err == nil {
			err = fmt.Errorf("reranker returned %d scores for %d passages", len(scores), head)
		}
		return err
	}
	for i := 0; i < head; i++ {
		cands[i].RerankScore = scores[i]
		cands[i].Reranked = true
		cands[i].FusedScore = scores[i]
	}
	sort.SliceStable(cands[:head], func(i, j int) bool {
		if cands[i].FusedScore == cands[j].FusedScore {
			return cands[i].ChunkID < cands[j].ChunkID
		}
		return cands[i].FusedScore > cands[j].FusedScore
	})
	return nil
}

// mmr reorders candidates by Maximal Marginal Relevance over embeddings to
// penalize near-duplicates. Relevance is the normalized score; similarity is
// cosine between stored chunk embeddings.
func (r *Retriever) mmr(cands []Candidate, lambda float64) []Candidate {
	if len(cands) <= 1 {
		return cands
	}

	// Relevance for MMR follows the current (possibly reranked) order.
	rel := make([]float64, len(cands))
	minS, maxS := cands[0].FusedScore, cands[0].FusedScore
	for _, c := range cands {
		minS = math.Min(minS, c.FusedScore)
		maxS = math.Max(maxS, c.FusedScore)
	}
	for i, c := range cands {
		if maxS > minS {
			rel[i] = (c.FusedScore - minS) / (maxS - minS)
		} else {
			rel[i] = 1.0
		}
	}

	remaining := make([]int, len(cands))
	for i := range remaining {
		remaining[i] = i
	}
	selected := make([]int, 0, len(cands))

	for len(remaining) > 0 {
		bestPos, bestVal := 0, math.Inf(-1)
		for pos, idx := range remaining {
			maxSim := 0.0
			vi := r.vec.Vector(cands[idx].ChunkID)
			for _, s := range selected {
				vs := r.vec.Vector(cands[s].ChunkID)
				if sim := vector.Cosine(vi, vs); sim > maxSim {
					maxSim = sim
				}
			}
			val := lambda*rel[idx] - (1-lambda)*maxSim
			if val > bestVal {
				bestVal = val
				bestPos = pos
			}
		}
		selected = append(selected, remaining[bestPos])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	out := make([]Candidate, len(selected))
	for i, idx := range selected {
		out[i] = cands[idx]
	}
	return out
}

// capPerDomain enforces the per-domain cap without reordering: over-capped
// candidates are skipped in favor of lower-ranked candidates from other
// domains, and only backfill the result when nothing else remains.
func capPerDomain(cands []Candidate, maxPerDomain, topN int) (final []Candidate, skippedIDs []string) {
	counts := make(map[string]int)
	final = make([]Candidate, 0, topN)
	var skipped []Candidate

	for _, c := range cands {
		if len(final) >= topN {
			break
		}
		if counts[c.Domain] >= maxPerDomain {
			skipped = append(skipped, c)
			skippedIDs = append(skippedIDs, c.ChunkID)
			continue
		}
		counts[c.Domain]++
		final = append(final, c)
	}
	for _, c := range skipped {
		if len(final) >= topN {
			break
		}
		final = append(final, c)
	}
	return final, skippedIDs
}
