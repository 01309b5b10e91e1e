// Package config holds runtime configuration for the query pipeline.
// Defaults are applied in Default(); environment variables with the
// GROUNDLINE_ prefix override them, and the policy pack (domain keywords,
// risk patterns) is loaded separately from YAML.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Paths
	DataDir    string `env:"DATA_DIR"`    // corpus db, vectors, bm25 cache, evidence log
	PolicyPath string `env:"POLICY_PATH"` // YAML policy pack; empty = built-in pack

	// Retrieval
	KInitial              int     `env:"K_INITIAL"`
	TopN                  int     `env:"TOP_N"`
	RRFC                  int     `env:"RRF_C"`
	MMRLambda             float64 `env:"MMR_LAMBDA"`
	MaxPerDomain          int     `env:"MAX_PER_DOMAIN"`
	DomainFilterThreshold float64 `env:"DOMAIN_FILTER_THRESHOLD"`

	// BM25 index (index-bound: changing these invalidates the cache)
	BM25K1      float64 `env:"BM25_K1"`
	BM25B       float64 `env:"BM25_B"`
	CacheSecret string  `env:"CACHE_SECRET"`

	// Gating and auditing
	ConfidenceThreshold float64 `env:"CONFIDENCE_THRESHOLD"`
	SupportThreshold    float64 `env:"SUPPORT_THRESHOLD"`
	StrictMode          bool    `env:"STRICT_MODE"`
	HardRefuseOOS       bool    `env:"HARD_REFUSE_OOS"`

	// Input limits
	MaxQueryChars int `env:"MAX_QUERY_CHARS"`

	// LLM provider (localhost only on the inference path)
	LLMBaseURL     string  `env:"LLM_BASE_URL"`
	LLMModel       string  `env:"LLM_MODEL"`
	LLMMaxTokens   int     `env:"LLM_MAX_TOKENS"`
	LLMTemperature float64 `env:"LLM_TEMPERATURE"`
	LLMConcurrency int     `env:"LLM_CONCURRENCY"`
	LLMQueueMax    int     `env:"LLM_QUEUE_MAX"`

	// Embedding provider (localhost only on the inference path)
	EmbedBaseURL string `env:"EMBED_BASE_URL"`
	EmbedModel   string `env:"EMBED_MODEL"`
	EmbedAPIKey  string `env:"EMBED_API_KEY"`

	// Logging
	LogJSON  bool `env:"LOG_JSON"`
	LogDebug bool `env:"LOG_DEBUG"`
}

// Default returns the configuration with documented defaults. Callers mutate
// the result or layer environment overrides on top via FromEnv.
func Default() Config {
	return Config{
		DataDir:               "data",
		KInitial:              16,
		TopN:                  6,
		RRFC:                  60,
		MMRLambda:             0.7,
		MaxPerDomain:          3,
		DomainFilterThreshold: 0.35,
		BM25K1:                1.5,
		BM25B:                 0.75,
		ConfidenceThreshold:   0.60,
		SupportThreshold:      0.55,
		StrictMode:            true,
		HardRefuseOOS:         true,
		MaxQueryChars:         2000,
		LLMBaseURL:            "http://localhost:8000/v1",
		LLMMaxTokens:          768,
		LLMTemperature:        0.1,
		LLMConcurrency:        1,
		LLMQueueMax:           8,
		EmbedBaseURL:          "http://localhost:11434/v1",
	}
}

// FromEnv applies GROUNDLINE_* environment overrides on top of defaults.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "GROUNDLINE_"}); err != nil {
		return cfg, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations that would make gating or fusion
// meaningless rather than degrading silently at query time.
func (c Config) Validate() error {
	if c.KInitial <= 0 || c.TopN <= 0 {
		return fmt.Errorf("k_initial and top_n must be positive")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1]")
	}
	if c.SupportThreshold < 0 || c.SupportThreshold > 1 {
		return fmt.Errorf("support_threshold must be in [0,1]")
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 {
		return fmt.Errorf("mmr_lambda must be in [0,1]")
	}
	if c.RRFC <= 0 {
		return fmt.Errorf("rrf_c must be positive")
	}
	if c.BM25K1 <= 0 || c.BM25B < 0 || c.BM25B > 1 {
		return fmt.Errorf("bm25 parameters out of range (k1>0, 0<=b<=1)")
	}
	if c.MaxPerDomain <= 0 {
		return fmt.Errorf("max_per_domain must be positive")
	}
	if c.MaxQueryChars <= 0 {
		return fmt.Errorf("max_query_chars must be positive")
	}
	if c.LLMConcurrency <= 0 {
		return fmt.Errorf("llm_concurrency must be positive")
	}
	return nil
}
