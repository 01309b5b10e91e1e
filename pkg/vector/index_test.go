package vector

import (
	"math"
	"testing"
)

func unit(vals ...float32) []float32 {
	var n float64
	for _, v := range vals {
		n += float64(v) * float64(v)
	}
	n = math.Sqrt(n)
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(float64(v) / n)
	}
	return out
}

func TestSearchReturnsNearest(t *testing.T) {
	ids := []string{"a", "b", "c"}
	vecs := [][]float32{
		unit(1, 0, 0, 0),
		unit(0, 1, 0, 0),
		unit(1, 1, 0, 0),
	}
	ix, err := Build(ids, vecs)
	if err != nil {
		t.Fatal(err)
	}

	hits, err := ix.Search(unit(1, 0.1, 0, 0), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits: %d", len(hits))
	}
	if hits[0].ChunkID != "a" {
		t.Fatalf("nearest = %s, want a", hits[0].ChunkID)
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("scores out of order: %f < %f", hits[0].Score, hits[1].Score)
	}
}

func TestSearchScoreIsSimilarity(t *testing.T) {
	ids := []string{"same", "orthogonal"}
	vecs := [][]float32{
		unit(1, 0, 0),
		unit(0, 1, 0),
	}
	ix, err := Build(ids, vecs)
	if err != nil {
		t.Fatal(err)
	}

	hits, err := ix.Search(unit(1, 0, 0), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits: %d", len(hits))
	}
	// Identical vector scores ~1, orthogonal ~0, and the identical one leads.
	if hits[0].ChunkID != "same" || math.Abs(hits[0].Score-1) > 1e-5 {
		t.Fatalf("identical vector: %+v", hits[0])
	}
	if hits[1].ChunkID != "orthogonal" || math.Abs(hits[1].Score) > 1e-5 {
		t.Fatalf("orthogonal vector: %+v", hits[1])
	}
}

func TestBuildRejectsMismatch(t *testing.T) {
	if _, err := Build([]string{"a"}, nil); err == nil {
		t.Fatal("expected id/vector count error")
	}
	if _, err := Build([]string{"a", "b"}, [][]float32{unit(1, 0), unit(1, 0, 0)}); err == nil {
		t.Fatal("expected dimension error")
	}
	if _, err := Build(nil, nil); err == nil {
		t.Fatal("expected empty error")
	}
}

func TestSearchRejectsWrongDims(t *testing.T) {
	ix, err := Build([]string{"a"}, [][]float32{unit(1, 0, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Search(unit(1, 0), 1); err == nil {
		t.Fatal("expected dims error")
	}
}

func TestVectorLookup(t *testing.T) {
	v := unit(0, 1, 0)
	ix, err := Build([]string{"a"}, [][]float32{v})
	if err != nil {
		t.Fatal(err)
	}
	got := ix.Vector("a")
	if len(got) != 3 || got[1] != v[1] {
		t.Fatalf("vector: %v", got)
	}
	if ix.Vector("missing") != nil {
		t.Fatal("unknown id must return nil")
	}
}

func TestCosine(t *testing.T) {
	a := unit(1, 0)
	if c := Cosine(a, a); math.Abs(c-1) > 1e-6 {
		t.Fatalf("self cosine: %f", c)
	}
	if c := Cosine(unit(1, 0), unit(0, 1)); math.Abs(c) > 1e-6 {
		t.Fatalf("orthogonal cosine: %f", c)
	}
	if c := Cosine(unit(1, 0), unit(1, 0, 0)); c != 0 {
		t.Fatalf("mismatched lengths: %f", c)
	}
}
