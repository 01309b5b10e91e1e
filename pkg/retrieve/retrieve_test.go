package retrieve

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/groundline/groundline/pkg/bm25"
	"github.com/groundline/groundline/pkg/corpus"
	"github.com/groundline/groundline/pkg/embed"
	"github.com/groundline/groundline/pkg/vector"
)

func testCorpus(t *testing.T) (*corpus.Corpus, *vector.Index, *bm25.Index, embed.Embedder) {
	t.Helper()
	chunks := []corpus.Chunk{
		{ID: "eng-001", Domain: "engine", Source: "manual.pdf", Page: 12,
			Text: "If the engine cranks but will not start, check fuel delivery and spark. Inspect the fuel pump fuse."},
		{ID: "eng-002", Domain: "engine", Source: "manual.pdf", Page: 14,
			Text: "Engine overheating: check coolant level and radiator fan operation before driving further."},
		{ID: "brk-001", Domain: "brakes", Source: "manual.pdf", Page: 44,
			Text: "Replace brake pads when the friction material is below three millimeters."},
		{ID: "brk-002", Domain: "brakes", Source: "manual.pdf", Page: 46,
			Text: "A soft brake pedal usually means air in the hydraulic lines; bleed the brakes."},
		{ID: "tir-001", Domain: "tires", Source: "manual.pdf", Page: 80,
			Text: "The recommended tire pressure is 32 psi front and 30 psi rear, measured cold."},
		{ID: "ele-001", Domain: "electrical", Source: "manual.pdf", Page: 120,
			Text: "The fuse box is under the dashboard on the driver side; ratings are printed on the lid."},
	}
	crp, err := corpus.New(chunks)
	require.NoError(t, err)

	bow := embed.NewBOW(64)
	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		ids[i] = c.ID
	}
	vecs, err := bow.Embed(context.Background(), texts)
	require.NoError(t, err)
	vidx, err := vector.Build(ids, vecs)
	require.NoError(t, err)

	bidx := bm25.New(bm25.DefaultK1, bm25.DefaultB)
	for _, c := range chunks {
		bidx.Add(c.ID, corpus.NormalizeText(c.Text))
	}
	return crp, vidx, bidx, bow
}

func TestRetrieveFindsRelevantChunk(t *testing.T) {
	crp, vidx, bidx, bow := testCorpus(t)
	r := New(bow, vidx, crp, nil)

	res, err := r.Retrieve(context.Background(), "engine cranks but will not start", bidx, nil, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	require.Equal(t, "eng-001", res.Candidates[0].ChunkID)
	require.True(t, res.Trace.MMRApplied)
	require.False(t, res.Trace.EmbedderDown)
	require.Greater(t, res.Confidence, 0.0)
}

func TestRetrieveDeterministic(t *testing.T) {
	crp, vidx, bidx, bow := testCorpus(t)
	r := New(bow, vidx, crp, nil)

	first, err := r.Retrieve(context.Background(), "brake pedal feels soft", bidx, nil, Options{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), "brake pedal feels soft", bidx, nil, Options{})
		require.NoError(t, err)
		require.Equal(t, len(first.Candidates), len(again.Candidates))
		for j := range first.Candidates {
			require.Equal(t, first.Candidates[j].ChunkID, again.Candidates[j].ChunkID)
		}
		require.Equal(t, first.Confidence, again.Confidence)
	}
}

func TestRetrieveDomainFilter(t *testing.T) {
	crp, vidx, bidx, bow := testCorpus(t)
	r := New(bow, vidx, crp, nil)

	res, err := r.Retrieve(context.Background(), "check the fuse", bidx, []string{"electrical"}, Options{})
	require.NoError(t, err)
	require.True(t, res.Trace.FilterApplied)
	require.False(t, res.Trace.FilterDowngraded)
	for _, c := range res.Candidates {
		require.Equal(t, "electrical", c.Domain)
	}
}

func TestRetrieveFilterDowngrade(t *testing.T) {
	crp, vidx, bidx, bow := testCorpus(t)
	r := New(bow, vidx, crp, nil)

	res, err := r.Retrieve(context.Background(), "tire pressure", bidx, []string{"no-such-domain"}, Options{})
	require.NoError(t, err)
	require.True(t, res.Trace.FilterDowngraded)
	require.NotEmpty(t, res.Candidates, "downgraded filter must not empty the result")
}

func TestRetrieveDenseLegAlone(t *testing.T) {
	crp, vidx, _, bow := testCorpus(t)
	r := New(bow, vidx, crp, nil)

	// No BM25 index: ranking rests entirely on the vector leg.
	res, err := r.Retrieve(context.Background(), "the engine cranks but will not start, check fuel delivery and spark", nil, nil, Options{})
	require.NoError(t, err)
	require.False(t, res.Trace.EmbedderDown)
	require.Empty(t, res.Trace.BM25Raw)
	require.NotEmpty(t, res.Trace.VectorRaw)
	require.Equal(t, "eng-001", res.Trace.VectorRaw[0].ChunkID)
	for i := 1; i < len(res.Trace.VectorRaw); i++ {
		require.GreaterOrEqual(t, res.Trace.VectorRaw[i-1].Score, res.Trace.VectorRaw[i].Score,
			"vector hits must arrive most similar first")
	}
	require.Equal(t, "eng-001", res.Candidates[0].ChunkID)
}

func TestRetrieveLexicalOnlyStillDiversifies(t *testing.T) {
	crp, vidx, bidx, _ := testCorpus(t)
	r := New(nil, vidx, crp, nil)

	res, err := r.Retrieve(context.Background(), "tire pressure psi", bidx, nil, Options{})
	require.NoError(t, err)
	require.True(t, res.Trace.EmbedderDown)
	require.True(t, res.Trace.MMRApplied, "stored embeddings suffice for diversification")
	require.LessOrEqual(t, res.Confidence, embedderDownConfidenceCap)
}

func TestMMRPenalizesNearDuplicates(t *testing.T) {
	vidx, err := vector.Build(
		[]string{"dup-a", "dup-b", "other"},
		[][]float32{{1, 0}, {1, 0}, {0, 1}},
	)
	require.NoError(t, err)
	r := New(nil, vidx, nil, nil)

	cands := []Candidate{
		{ChunkID: "dup-a", FusedScore: 1.0},
		{ChunkID: "dup-b", FusedScore: 0.4},
		{ChunkID: "other", FusedScore: 0.0},
	}
	out := r.mmr(cands, 0.7)

	require.Len(t, out, 3)
	// dup-b duplicates the leader, so the dissimilar chunk moves ahead of it.
	require.Equal(t, "dup-a", out[0].ChunkID)
	require.Equal(t, "other", out[1].ChunkID)
	require.Equal(t, "dup-b", out[2].ChunkID)
}

func TestRetrieveBM25OnlyCapsConfidence(t *testing.T) {
	crp, _, bidx, _ := testCorpus(t)
	r := New(nil, nil, crp, nil)

	res, err := r.Retrieve(context.Background(), "tire pressure psi", bidx, nil, Options{})
	require.NoError(t, err)
	require.True(t, res.Trace.EmbedderDown)
	require.False(t, res.Trace.MMRApplied)
	require.NotEmpty(t, res.Candidates)
	require.LessOrEqual(t, res.Confidence, embedderDownConfidenceCap)
}

func TestRetrieveZeroCandidates(t *testing.T) {
	crp, _, bidx, _ := testCorpus(t)
	r := New(nil, nil, crp, nil)

	res, err := r.Retrieve(context.Background(), "xylophone zebra waltz", bidx, nil, Options{})
	require.NoError(t, err)
	require.Empty(t, res.Candidates)
	require.Zero(t, res.Confidence)
}

func TestFuseRewardsBothLegs(t *testing.T) {
	crp, _, _, _ := testCorpus(t)
	r := New(nil, nil, crp, nil)

	vecHits := []vector.Hit{{ChunkID: "eng-001", Score: 0.9}, {ChunkID: "brk-001", Score: 0.8}}
	bmHits := []bm25.Hit{{ID: "eng-001", Score: 5.0}, {ID: "tir-001", Score: 4.0}}
	cands := r.fuse(vecHits, bmHits, 60)

	require.Len(t, cands, 3)
	require.Equal(t, "eng-001", cands[0].ChunkID, "chunk in both legs must outrank single-leg chunks")
	require.Greater(t, cands[0].FusedScore, cands[1].FusedScore)
}

func TestFuseDropsUnknownChunks(t *testing.T) {
	crp, _, _, _ := testCorpus(t)
	r := New(nil, nil, crp, nil)

	cands := r.fuse(nil, []bm25.Hit{{ID: "ghost", Score: 3.0}, {ID: "tir-001", Score: 2.0}}, 60)
	require.Len(t, cands, 1)
	require.Equal(t, "tir-001", cands[0].ChunkID)
}

func TestCapPerDomainSkipsThenBackfills(t *testing.T) {
	mk := func(id, domain string) Candidate {
		return Candidate{ChunkID: id, Domain: domain}
	}
	ordered := []Candidate{
		mk("a1", "engine"), mk("a2", "engine"), mk("a3", "engine"),
		mk("a4", "engine"), mk("b1", "brakes"), mk("b2", "brakes"), mk("a5", "engine"),
	}

	final, skipped := capPerDomain(ordered, 3, 6)
	require.Len(t, final, 6)
	// a4 is skipped in place; b1 and b2 take its slot, then backfill brings
	// it back because nothing else remains.
	ids := make([]string, len(final))
	engines := 0
	for i, c := range final {
		ids[i] = c.ChunkID
		if c.Domain == "engine" {
			engines++
		}
	}
	require.Equal(t, []string{"a1", "a2", "a3", "b1", "b2", "a4"}, ids)
	require.Contains(t, skipped, "a4")
	require.Contains(t, skipped, "a5")
	require.Equal(t, 4, engines)
}

func TestCapPerDomainSingleDomainCorpus(t *testing.T) {
	var ordered []Candidate
	for i := 0; i < 5; i++ {
		ordered = append(ordered, Candidate{ChunkID: fmt.Sprintf("e%d", i), Domain: "engine"})
	}
	final, _ := capPerDomain(ordered, 3, 6)
	// With no other domains available the cap yields, keeping rank order.
	require.Len(t, final, 5)
	require.Equal(t, "e0", final[0].ChunkID)
}

type doubleReranker struct{}

func (doubleReranker) Rerank(_ context.Context, _ string, passages []string) ([]float64, error) {
	scores := make([]float64, len(passages))
	for i := range passages {
		scores[i] = float64(len(passages) - i)
	}
	return scores, nil
}

func TestRetrieveAppliesReranker(t *testing.T) {
	crp, vidx, bidx, bow := testCorpus(t)
	r := New(bow, vidx, crp, doubleReranker{})

	res, err := r.Retrieve(context.Background(), "engine cranks but will not start", bidx, nil, Options{})
	require.NoError(t, err)
	require.True(t, res.Trace.RerankApplied)
	require.NotEmpty(t, res.Candidates)
	require.True(t, res.Candidates[0].Reranked)
}
