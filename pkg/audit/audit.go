// Package audit verifies that every factual claim in a generated answer is
// supported by the retrieved context. Generation without audit never leaves
// the pipeline.
package audit

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/groundline/groundline/pkg/embed"
	"github.com/groundline/groundline/pkg/vector"
)

// Status summarizes an audited answer.
type Status string

const (
	StatusFullyCited     Status = "FULLY_CITED"
	StatusPartiallyCited Status = "PARTIALLY_CITED"
	StatusUncited        Status = "UNCITED"
)

// Claim is one auditable sentence with its best supporting evidence.
type Claim struct {
	Text         string  `json:"text"`
	Supported    bool    `json:"supported"`
	BestChunkID  string  `json:"best_chunk_id,omitempty"`
	SupportScore float64 `json:"support_score"`
}

// Report is the audit outcome for one answer.
type Report struct {
	Status           Status   `json:"status"`
	Claims           []Claim  `json:"claims"`
	ClaimsTotal      int      `json:"claims_total"`
	ClaimsSupported  int      `json:"claims_supported"`
	UnsupportedSpans []string `json:"unsupported_spans,omitempty"`
}

// Passage is one piece of retrieved context the answer may cite.
type Passage struct {
	ChunkID string
	Text    string
}

// Auditor scores claims against passages. The embedder leg is optional:
// without it support falls back to lexical overlap alone.
type Auditor struct {
	embedder  embed.Embedder
	threshold float64
}

// New builds an auditor with the given support threshold.
func New(embedder embed.Embedder, threshold float64) *Auditor {
	if threshold <= 0 {
		threshold = 0.55
	}
	return &Auditor{embedder: embedder, threshold: threshold}
}

// Audit extracts claims from the answer and scores each against every
// passage. A claim is supported when its best score clears the threshold.
func (a *Auditor) Audit(ctx context.Context, answer string, passages []Passage) (Report, error) {
	claims := ExtractClaims(answer)
	if len(claims) == 0 {
		// Nothing auditable reads as nothing supported.
		return Report{Status: StatusUncited}, nil
	}

	passageGrams := make([]map[string]struct{}, len(passages))
	for i, p := range passages {
		passageGrams[i] = wordTrigrams(p.Text)
	}

	// A configured embedder that fails mid-audit is an error, not a silent
	// downgrade: a lexical-only pass scores support differently from what the
	// gate's strictness assumed, so the caller decides how to degrade.
	var passageVecs [][]float32
	if a.embedder != nil && len(passages) > 0 {
		texts := make([]string, len(passages))
		for i, p := range passages {
			texts[i] = p.Text
		}
		vecs, err := a.embedder.Embed(ctx, texts)
		if err != nil {
			return Report{}, fmt.Errorf("embed passages: %w", err)
		}
		if len(vecs) != len(passages) {
			return Report{}, fmt.Errorf("embedder returned %d vectors for %d passages", len(vecs), len(passages))
		}
		passageVecs = vecs
	}

	report := Report{Claims: make([]Claim, 0, len(claims)), ClaimsTotal: len(claims)}
	for _, sentence := range claims {
		claim := Claim{Text: sentence}
		grams := wordTrigrams(sentence)

		var claimVec []float32
		if passageVecs != nil {
			vecs, err := a.embedder.Embed(ctx, []string{sentence})
			if err != nil {
				return Report{}, fmt.Errorf("embed claim: %w", err)
			}
			if len(vecs) == 1 {
				claimVec = vecs[0]
			}
		}

		for i, p := range passages {
			score := overlap(grams, passageGrams[i])
			if claimVec != nil {
				if cos := vector.Cosine(claimVec, passageVecs[i]); cos > score {
					score = cos
				}
			}
			if score > claim.SupportScore {
				claim.SupportScore = score
				claim.BestChunkID = p.ChunkID
			}
		}

		claim.Supported = claim.SupportScore >= a.threshold
		if claim.Supported {
			report.ClaimsSupported++
		} else {
			report.UnsupportedSpans = append(report.UnsupportedSpans, sentence)
		}
		report.Claims = append(report.Claims, claim)
	}

	switch {
	case report.ClaimsSupported == report.ClaimsTotal:
		report.Status = StatusFullyCited
	case report.ClaimsSupported > 0:
		report.Status = StatusPartiallyCited
	default:
		report.Status = StatusUncited
	}
	return report, nil
}

var (
	sentenceSplitRE  = regexp.MustCompile(`(?m)[.!?]\s+|[.!?]$|\n+`)
	citationMarkerRE = regexp.MustCompile(`\[[^\]]*\]`)
)

// Non-factual boilerplate that generation models prepend or append; these
// sentences carry no claim to verify.
var boilerplatePrefixes = []string{
	"based on the provided",
	"according to the provided",
	"i cannot",
	"i can't",
	"i don't have",
	"note:",
	"please consult",
	"always consult",
	"if you are unsure",
	"here is",
	"here's",
	"sure,",
	"certainly",
}

// ExtractClaims splits an answer into auditable sentences, dropping
// greetings, hedging boilerplate, and sentences that are only citation
// markers.
func ExtractClaims(answer string) []string {
	parts := sentenceSplitRE.Split(answer, -1)
	claims := make([]string, 0, len(parts))
	for _, part := range parts {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		stripped := strings.TrimSpace(citationMarkerRE.ReplaceAllString(s, " "))
		if stripped == "" {
			continue
		}
		if len(strings.Fields(stripped)) < 3 {
			continue
		}
		if isBoilerplate(stripped) {
			continue
		}
		claims = append(claims, s)
	}
	return claims
}

func isBoilerplate(s string) bool {
	lc := strings.ToLower(s)
	for _, p := range boilerplatePrefixes {
		if strings.HasPrefix(lc, p) {
			return true
		}
	}
	return false
}

var tokenRE = regexp.MustCompile(`[\pL\pN]+`)

// wordTrigrams returns the set of consecutive lowercase word trigrams.
// Texts shorter than three words contribute their full token sequence as a
// single gram so short claims still compare.
func wordTrigrams(text string) map[string]struct{} {
	words := tokenRE.FindAllString(strings.ToLower(text), -1)
	grams := make(map[string]struct{})
	if len(words) < 3 {
		if len(words) > 0 {
			grams[strings.Join(words, " ")] = struct{}{}
		}
		return grams
	}
	for i := 0; i+3 <= len(words); i++ {
		grams[strings.Join(words[i:i+3], " ")] = struct{}{}
	}
	return grams
}

// overlap is trigram containment: the fraction of claim grams found in the
// passage. Normalizing by the claim side keeps short claims comparable
// against long passages, which plain Jaccard does not.
func overlap(claim, passage map[string]struct{}) float64 {
	if len(claim) == 0 || len(passage) == 0 {
		return 0
	}
	inter := 0
	for g := range claim {
		if _, ok := passage[g]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(claim))
}
