// Package bm25 implements Okapi BM25 lexical scoring over tokenized chunk
// text, with a persistent cache signed by HMAC-SHA256 and keyed by the
// corpus hash. Parameters k1 and b are index-bound: changing them
// invalidates the cache.
package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultK1 and DefaultB follow the common Okapi parameterization.
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

var tokenSplitRE = regexp.MustCompile(`[^\pL\pN]+`)

// Tokenize lowercases and splits on non-letter/number runs. The same
// tokenizer must be used at build and query time.
func Tokenize(s string) []string {
	parts := tokenSplitRE.Split(strings.ToLower(s), -1)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

type posting struct {
	Doc int32 `json:"d"`
	TF  int32 `json:"t"`
}

// Index holds document-length statistics and inverted posting lists.
// Read-only after Build/Load; safe for concurrent searchers.
type Index struct {
	k1 float64
	b  float64

	docIDs   []string
	docLens  []int32
	postings map[string][]posting
	totalLen int64
}

// Hit is one scored document.
type Hit struct {
	ID    string
	Score float64
}

// New returns an empty index with the given parameters.
func New(k1, b float64) *Index {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b < 0 || b > 1 {
		b = DefaultB
	}
	return &Index{
		k1:       k1,
		b:        b,
		postings: make(map[string][]posting),
	}
}

// K1 returns the index-bound k1 parameter.
func (ix *Index) K1() float64 { return ix.k1 }

// B returns the index-bound b parameter.
func (ix *Index) B() float64 { return ix.b }

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return len(ix.docIDs) }

// Add indexes one document. Build-time only; not safe to interleave with
// Search.
func (ix *Index) Add(id, text string) {
	tokens := Tokenize(text)
	doc := int32(len(ix.docIDs))
	ix.docIDs = append(ix.docIDs, id)
	ix.docLens = append(ix.docLens, int32(len(tokens)))
	ix.totalLen += int64(len(tokens))

	tf := make(map[string]int32, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	for term, n := range tf {
		ix.postings[term] = append(ix.postings[term], posting{Doc: doc, TF: n})
	}
}

// Search scores documents against the query tokens and returns the top k in
// deterministic order: score descending, then document id ascending.
func (ix *Index) Search(tokens []string, k int) []Hit {
	if len(tokens) == 0 || len(ix.docIDs) == 0 || k <= 0 {
		return nil
	}

	n := float64(len(ix.docIDs))
	avgdl := float64(ix.totalLen) / n

	scores := make(map[int32]float64)
	for _, term := range tokens {
		plist, ok := ix.postings[term]
		if !ok {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range plist {
			dl := float64(ix.docLens[p.Doc])
			tf := float64(p.TF)
			denom := tf + ix.k1*(1-ix.b+ix.b*dl/avgdl)
			scores[p.Doc] += idf * tf * (ix.k1 + 1) / denom
		}
	}

	hits := make([]Hit, 0, len(scores))
	for doc, score := range scores {
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{ID: ix.docIDs[doc], Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
