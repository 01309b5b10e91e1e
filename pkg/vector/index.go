// Package vector wraps a comet flat index over chunk embeddings.
// Similarity semantics: cosine, higher is better, range [-1, 1] for
// L2-normalized inputs. The index is built once at startup and read-only
// afterwards.
package vector

import (
	"fmt"
	"math"

	"github.com/wizenheimer/comet"
)

// Hit is one nearest neighbor.
type Hit struct {
	ChunkID string
	Score   float64
}

// Index maps query vectors to the nearest chunk embeddings.
type Index struct {
	dims int
	ids  []string
	vecs [][]float32
	byID map[string]int
	flat comet.VectorIndex
}

// Build constructs the index from parallel id/vector slices in corpus order.
// Fails fast on count or dimension mismatches: a partially embedded corpus
// cannot serve.
func Build(ids []string, vectors [][]float32) (*Index, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("vector index: %d ids for %d vectors", len(ids), len(vectors))
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("vector index: no vectors")
	}
	dims := len(vectors[0])
	if dims == 0 {
		return nil, fmt.Errorf("vector index: zero-dimension vectors")
	}

	flat, err := comet.NewFlatIndex(dims, comet.Cosine)
	if err != nil {
		return nil, fmt.Errorf("comet flat index: %w", err)
	}
	byID := make(map[string]int, len(ids))
	for i, vec := range vectors {
		if len(vec) != dims {
			return nil, fmt.Errorf("vector index: vector %d has %d dims, want %d", i, len(vec), dims)
		}
		node := comet.NewVectorNodeWithID(uint32(i), vec)
		if err := flat.Add(*node); err != nil {
			return nil, fmt.Errorf("flat add %d: %w", i, err)
		}
		byID[ids[i]] = i
	}

	return &Index{
		dims: dims,
		ids:  ids,
		vecs: vectors,
		byID: byID,
		flat: flat,
	}, nil
}

// Dims returns the embedding dimension the index was built with.
func (ix *Index) Dims() int { return ix.dims }

// Search returns the top-k chunks by cosine similarity to vec, best first.
// comet scores vector results as cosine distance (ascending, smaller is more
// similar), so hits convert to similarity = 1 - distance.
func (ix *Index) Search(vec []float32, k int) ([]Hit, error) {
	if len(vec) != ix.dims {
		return nil, fmt.Errorf("vector index: query has %d dims, want %d", len(vec), ix.dims)
	}
	if k <= 0 {
		return nil, nil
	}
	results, err := ix.flat.NewSearch().
		WithQuery(vec).
		WithK(k).
		Execute()
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id := int(r.GetId())
		if id < 0 || id >= len(ix.ids) {
			continue
		}
		hits = append(hits, Hit{ChunkID: ix.ids[id], Score: 1 - float64(r.GetScore())})
	}
	return hits, nil
}

// Vector returns the stored embedding for a chunk id, or nil if unknown.
// Used by the retriever's diversification stage.
func (ix *Index) Vector(chunkID string) []float32 {
	i, ok := ix.byID[chunkID]
	if !ok {
		return nil
	}
	return ix.vecs[i]
}

// Cosine computes cosine similarity between two vectors of equal length.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
