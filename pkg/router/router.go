// Package router infers the likely knowledge domain(s) of a question so
// retrieval can be narrowed without ever being emptied.
package router

import (
	"context"
	"sort"
	"strings"

	"github.com/groundline/groundline/pkg/config"
)

// ZeroShot scores domain labels against a query. Optional capability: when
// absent the router runs on keywords alone.
type ZeroShot interface {
	Classify(ctx context.Context, query string, labels []string) (map[string]float64, error)
}

// DomainWeight is one (domain, weight) candidate.
type DomainWeight struct {
	Domain string  `json:"domain"`
	Weight float64 `json:"weight"`
}

// Inference records how the router read a query. It is recorded in the
// evidence chain whether or not filtering is applied.
type Inference struct {
	Candidates      []DomainWeight `json:"candidates"`
	Method          string         `json:"method"` // keyword | zero-shot | hybrid
	FilterApplied   bool           `json:"filter_applied"`
	FilteredDomains []string       `json:"filtered_domains,omitempty"`
	Threshold       float64        `json:"threshold"`
}

// Router scores configured domains by keyword evidence, optionally blended
// with a zero-shot classifier.
type Router struct {
	domains   []config.Domain
	keywords  map[string][]string // domain -> lowered keywords
	zeroShot  ZeroShot
	threshold float64
}

// New builds a router from the policy pack's domain list.
func New(domains []config.Domain, threshold float64, zeroShot ZeroShot) *Router {
	kw := make(map[string][]string, len(domains))
	for _, d := range domains {
		lowered := make([]string, 0, len(d.Keywords))
		for _, k := range d.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" {
				lowered = append(lowered, k)
			}
		}
		kw[d.Name] = lowered
	}
	return &Router{
		domains:   domains,
		keywords:  kw,
		zeroShot:  zeroShot,
		threshold: threshold,
	}
}

// Route infers domain weights for a cleaned question. If no domain clears
// the threshold the filter is not applied: graceful degradation beats a
// wrong narrow search.
func (r *Router) Route(ctx context.Context, qClean string) Inference {
	lc := strings.ToLower(qClean)

	counts := make(map[string]float64, len(r.domains))
	total := 0.0
	for _, d := range r.domains {
		n := 0.0
		for _, k := range r.keywords[d.Name] {
			if strings.Contains(lc, k) {
				n++
			}
		}
		counts[d.Name] = n
		total += n
	}

	keywordWeights := make(map[string]float64, len(counts))
	if total > 0 {
		for name, n := range counts {
			keywordWeights[name] = n / total
		}
	}

	method := "keyword"
	weights := keywordWeights
	if r.zeroShot != nil {
		labels := make([]string, 0, len(r.domains))
		for _, d := range r.domains {
			labels = append(labels, d.Name)
		}
		if zs, err := r.zeroShot.Classify(ctx, qClean, labels); err == nil && len(zs) > 0 {
			method = "hybrid"
			if total == 0 {
				method = "zero-shot"
			}
			blended := make(map[string]float64, len(labels))
			for _, name := range labels {
				blended[name] = 0.5*keywordWeights[name] + 0.5*zs[name]
			}
			weights = blended
		}
	}

	candidates := make([]DomainWeight, 0, len(weights))
	for name, w := range weights {
		if w > 0 {
			candidates = append(candidates, DomainWeight{Domain: name, Weight: w})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Weight == candidates[j].Weight {
			return candidates[i].Domain < candidates[j].Domain
		}
		return candidates[i].Weight > candidates[j].Weight
	})

	inf := Inference{
		Candidates: candidates,
		Method:     method,
		Threshold:  r.threshold,
	}
	for _, c := range candidates {
		if c.Weight >= r.threshold {
			inf.FilteredDomains = append(inf.FilteredDomains, c.Domain)
		}
	}
	inf.FilterApplied = len(inf.FilteredDomains) > 0
	return inf
}
