// Package embed provides the dense-embedding boundary of the pipeline.
// Implementations must be safe for concurrent use and deterministic for
// identical input under a fixed model.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Embedder computes dense vector representations for text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dims() int
}

// NewHTTP constructs an embedder against an OpenAI-compatible
// /v1/embeddings endpoint. The base URL must resolve to loopback: the
// inference path is air-gapped by contract.
func NewHTTP(apiBase, apiKey, model string) (*HTTPEmbedder, error) {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("embedder api base is required")
	}
	if model == "" {
		return nil, fmt.Errorf("embedding model id is required")
	}
	if err := RequireLoopback(apiBase); err != nil {
		return nil, err
	}
	return &HTTPEmbedder{
		apiBase: apiBase,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// RequireLoopback rejects base URLs whose host is not a loopback address.
func RequireLoopback(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	host := u.Hostname()
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("base url %q is not loopback; external endpoints are not permitted on the inference path", rawURL)
}

// HTTPEmbedder calls an OpenAI-compatible /v1/embeddings endpoint on
// localhost (Ollama, vLLM, llama.cpp server).
type HTTPEmbedder struct {
	apiBase string
	apiKey  string
	model   string
	client  *http.Client

	dimsOnce sync.Once
	dims     int // discovered from the first response
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.apiBase+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(result.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}

	if len(vecs) > 0 && len(vecs[0]) > 0 {
		e.dimsOnce.Do(func() { e.dims = len(vecs[0]) })
	}
	return vecs, nil
}

func (e *HTTPEmbedder) Dims() int {
	return e.dims
}
