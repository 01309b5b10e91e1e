package router

import (
	"context"
	"errors"
	"testing"

	"github.com/groundline/groundline/pkg/config"
)

func TestRouteKeywordWeights(t *testing.T) {
	r := New(config.DefaultPolicy().Domains, 0.35, nil)
	inf := r.Route(context.Background(), "Why does the engine misfire and lose spark under load?")

	if inf.Method != "keyword" {
		t.Fatalf("method: %s", inf.Method)
	}
	if len(inf.Candidates) == 0 || inf.Candidates[0].Domain != "engine" {
		t.Fatalf("expected engine as top candidate: %+v", inf.Candidates)
	}
	if !inf.FilterApplied {
		t.Fatal("expected filter applied for a clearly single-domain query")
	}
	if inf.FilteredDomains[0] != "engine" {
		t.Fatalf("filtered domains: %v", inf.FilteredDomains)
	}
}

func TestRouteNoKeywordsNoFilter(t *testing.T) {
	r := New(config.DefaultPolicy().Domains, 0.35, nil)
	inf := r.Route(context.Background(), "what does this strange noise mean")

	if inf.FilterApplied {
		t.Fatalf("no keywords should mean no filter: %+v", inf)
	}
	if len(inf.Candidates) != 0 {
		t.Fatalf("expected no candidates: %+v", inf.Candidates)
	}
}

func TestRouteThresholdFiltersWeakDomains(t *testing.T) {
	// One brakes keyword against three engine keywords: brakes weight 0.25
	// stays below a 0.35 threshold.
	r := New(config.DefaultPolicy().Domains, 0.35, nil)
	inf := r.Route(context.Background(), "engine spark misfire near the brake line")

	for _, d := range inf.FilteredDomains {
		if d == "brakes" {
			t.Fatalf("brakes should be below threshold: %+v", inf)
		}
	}
}

type stubZeroShot struct {
	scores map[string]float64
	err    error
}

func (s stubZeroShot) Classify(_ context.Context, _ string, _ []string) (map[string]float64, error) {
	return s.scores, s.err
}

func TestRouteBlendsZeroShot(t *testing.T) {
	zs := stubZeroShot{scores: map[string]float64{"tires": 1.0}}
	r := New(config.DefaultPolicy().Domains, 0.35, zs)
	inf := r.Route(context.Background(), "engine oil change interval")

	if inf.Method != "hybrid" {
		t.Fatalf("method: %s", inf.Method)
	}
	// Keyword evidence points at engine, the classifier at tires; both carry
	// half weight so both appear.
	domains := map[string]bool{}
	for _, c := range inf.Candidates {
		domains[c.Domain] = true
	}
	if !domains["engine"] || !domains["tires"] {
		t.Fatalf("expected blended candidates: %+v", inf.Candidates)
	}
}

func TestRouteZeroShotErrorFallsBackToKeywords(t *testing.T) {
	zs := stubZeroShot{err: errors.New("classifier offline")}
	r := New(config.DefaultPolicy().Domains, 0.35, zs)
	inf := r.Route(context.Background(), "brake pedal feels soft")

	if inf.Method != "keyword" {
		t.Fatalf("expected keyword fallback, got %s", inf.Method)
	}
	if len(inf.Candidates) == 0 || inf.Candidates[0].Domain != "brakes" {
		t.Fatalf("candidates: %+v", inf.Candidates)
	}
}

func TestRouteDeterministicOrder(t *testing.T) {
	r := New(config.DefaultPolicy().Domains, 0.35, nil)
	q := "brake pads and engine oil"
	first := r.Route(context.Background(), q)
	for i := 0; i < 5; i++ {
		again := r.Route(context.Background(), q)
		if len(again.Candidates) != len(first.Candidates) {
			t.Fatal("candidate count varies")
		}
		for j := range again.Candidates {
			if again.Candidates[j] != first.Candidates[j] {
				t.Fatalf("ordering not deterministic: %+v vs %+v", again.Candidates, first.Candidates)
			}
		}
	}
}
