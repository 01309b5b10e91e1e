package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// BOW is a deterministic hashed bag-of-words embedder. It needs no model
// server, produces the same vector for the same text on every call, and is
// the linked-in default for tests and air-gapped smoke runs. Not a semantic
// model: lexically similar texts score high, paraphrases do not.
type BOW struct {
	dims int
}

// NewBOW returns a BOW embedder with the given fixed dimension.
func NewBOW(dims int) *BOW {
	if dims <= 0 {
		dims = 256
	}
	return &BOW{dims: dims}
}

func (b *BOW) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, b.dims)
		for _, tok := range bowTokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[int(h.Sum32())%b.dims]++
		}
		// L2 normalize so inner products behave as cosine
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range vec {
				vec[j] = float32(float64(vec[j]) / norm)
			}
		}
		vecs[i] = vec
	}
	return vecs, nil
}

func (b *BOW) Dims() int {
	return b.dims
}

func bowTokenize(text string) []string {
	out := make([]string, 0, 16)
	start := -1
	lower := []rune(text)
	for i, r := range lower {
		isWord := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if isWord && start < 0 {
			start = i
		}
		if !isWord && start >= 0 {
			out = append(out, lowerASCII(string(lower[start:i])))
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, lowerASCII(string(lower[start:])))
	}
	return out
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
