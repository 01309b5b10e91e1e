package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.TopN = 0 },
		func(c *Config) { c.ConfidenceThreshold = 1.5 },
		func(c *Config) { c.SupportThreshold = -0.1 },
		func(c *Config) { c.MMRLambda = 2 },
		func(c *Config) { c.RRFC = 0 },
		func(c *Config) { c.BM25K1 = 0 },
		func(c *Config) { c.BM25B = 1.2 },
		func(c *Config) { c.MaxPerDomain = 0 },
		func(c *Config) { c.MaxQueryChars = 0 },
		func(c *Config) { c.LLMConcurrency = 0 },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GROUNDLINE_TOP_N", "3")
	t.Setenv("GROUNDLINE_STRICT_MODE", "false")
	t.Setenv("GROUNDLINE_CACHE_SECRET", "shhh")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TopN != 3 || cfg.StrictMode || cfg.CacheSecret != "shhh" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.RRFC != 60 {
		t.Fatalf("untouched default lost: %d", cfg.RRFC)
	}
}

func TestLoadPolicyDefaults(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Domains) == 0 || len(p.Injection) == 0 || len(p.SafetyBypass) == 0 {
		t.Fatalf("built-in pack incomplete: %+v", p)
	}
}

func TestLoadPolicyPartialPackKeepsGates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yml")
	pack := `
domains:
  - name: hydraulics
    keywords: [pump, valve, pressure]
`
	if err := os.WriteFile(path, []byte(pack), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Domains) != 1 || p.Domains[0].Name != "hydraulics" {
		t.Fatalf("domains: %+v", p.Domains)
	}
	// Omitted lists fall back so triage gates stay armed.
	if len(p.SafetyBypass) == 0 || len(p.Injection) == 0 || len(p.Emergency) == 0 {
		t.Fatalf("fallback lists missing: %+v", p)
	}
}
