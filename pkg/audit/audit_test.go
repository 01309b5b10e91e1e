package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/groundline/groundline/pkg/embed"
)

var enginePassages = []Passage{
	{ChunkID: "eng-001", Text: "If the engine cranks but will not start, check fuel delivery and spark. Inspect the fuel pump fuse and listen for the fuel pump priming when the ignition is switched on."},
	{ChunkID: "tir-001", Text: "The recommended tire pressure is 32 psi front and 30 psi rear, measured cold."},
}

func TestAuditFullyCited(t *testing.T) {
	a := New(embed.NewBOW(64), 0.55)
	answer := "Check fuel delivery and spark. Inspect the fuel pump fuse and listen for the fuel pump priming when the ignition is switched on."

	report, err := a.Audit(context.Background(), answer, enginePassages)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusFullyCited {
		t.Fatalf("status: %s, claims: %+v", report.Status, report.Claims)
	}
	if report.ClaimsSupported != report.ClaimsTotal || report.ClaimsTotal == 0 {
		t.Fatalf("counts: %d/%d", report.ClaimsSupported, report.ClaimsTotal)
	}
	for _, c := range report.Claims {
		if c.BestChunkID != "eng-001" {
			t.Fatalf("claim attributed to %s: %q", c.BestChunkID, c.Text)
		}
	}
}

func TestAuditPartiallyCited(t *testing.T) {
	a := New(embed.NewBOW(64), 0.55)
	answer := "Inspect the fuel pump fuse and listen for the fuel pump priming. Quantum flux capacitors enjoy weekly unicorn polish rituals under moonlight."

	report, err := a.Audit(context.Background(), answer, enginePassages)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusPartiallyCited {
		t.Fatalf("status: %s, claims: %+v", report.Status, report.Claims)
	}
	if len(report.UnsupportedSpans) != 1 {
		t.Fatalf("unsupported spans: %v", report.UnsupportedSpans)
	}
}

func TestAuditUncited(t *testing.T) {
	a := New(embed.NewBOW(64), 0.55)
	answer := "Quantum flux capacitors enjoy weekly unicorn polish rituals under moonlight. Orbiting teapots regulate galactic brake harmonics every third Tuesday."

	report, err := a.Audit(context.Background(), answer, enginePassages)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusUncited {
		t.Fatalf("status: %s, claims: %+v", report.Status, report.Claims)
	}
	if report.ClaimsSupported != 0 {
		t.Fatalf("supported: %d", report.ClaimsSupported)
	}
}

func TestAuditWithoutEmbedder(t *testing.T) {
	a := New(nil, 0.55)
	answer := "Check fuel delivery and spark."

	report, err := a.Audit(context.Background(), answer, enginePassages)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusFullyCited {
		t.Fatalf("lexical-only support failed: %s %+v", report.Status, report.Claims)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding endpoint down")
}

func (failingEmbedder) Dims() int { return 64 }

func TestAuditEmbedderFailureIsError(t *testing.T) {
	a := New(failingEmbedder{}, 0.55)
	answer := "Check fuel delivery and spark."

	if _, err := a.Audit(context.Background(), answer, enginePassages); err == nil {
		t.Fatal("configured embedder failure must surface, not silently downgrade")
	}
}

func TestAuditEmptyAnswer(t *testing.T) {
	a := New(nil, 0.55)
	report, err := a.Audit(context.Background(), "", enginePassages)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusUncited || report.ClaimsTotal != 0 {
		t.Fatalf("empty answer: %+v", report)
	}
}

func TestExtractClaimsFiltersBoilerplate(t *testing.T) {
	answer := "Based on the provided context, here is what I found. Check fuel delivery and spark. [manual.pdf:12, eng-001] Always consult a qualified mechanic."
	claims := ExtractClaims(answer)
	if len(claims) != 1 {
		t.Fatalf("claims: %v", claims)
	}
	if claims[0] != "Check fuel delivery and spark" {
		t.Fatalf("claim: %q", claims[0])
	}
}

func TestExtractClaimsDropsShortFragments(t *testing.T) {
	claims := ExtractClaims("Yes. Check the coolant level in the reservoir.")
	if len(claims) != 1 {
		t.Fatalf("claims: %v", claims)
	}
}
