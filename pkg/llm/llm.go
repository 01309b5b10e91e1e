// Package llm is the generation boundary of the pipeline. The provider is
// only ever reached after the confidence gate has decided generation is
// warranted, and only over loopback.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/groundline/groundline/pkg/embed"
)

// ErrUnavailable marks a provider that is configured off or unreachable.
// Callers degrade to extractive answers instead of failing the query.
var ErrUnavailable = errors.New("llm provider unavailable")

// Request is one generation call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is the provider's answer.
type Completion struct {
	Text         string
	FinishReason string
}

// Provider generates text from a grounded prompt.
type Provider interface {
	Generate(ctx context.Context, req Request) (Completion, error)
}

// OpenAIProvider talks to an OpenAI-compatible chat endpoint on localhost
// (vLLM, llama.cpp server, Ollama).
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAI builds a provider against baseURL, which must resolve to
// loopback. apiKey may be empty for local servers.
func NewOpenAI(baseURL, apiKey, model string) (*OpenAIProvider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("llm base url is required")
	}
	if model == "" {
		return nil, fmt.Errorf("llm model id is required")
	}
	if err := embed.RequireLoopback(baseURL); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
	}
	if req.System != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.System))
	}
	params.Messages = append(params.Messages, openai.UserMessage(req.Prompt))
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature >= 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("chat completion returned no choices")
	}
	choice := resp.Choices[0]
	return Completion{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// Scripted replays canned completions in order. Test double; also usable as
// a dry-run provider.
type Scripted struct {
	Completions []Completion
	Errs        []error
	Calls       int
}

func (s *Scripted) Generate(_ context.Context, _ Request) (Completion, error) {
	i := s.Calls
	s.Calls++
	if i < len(s.Errs) && s.Errs[i] != nil {
		return Completion{}, s.Errs[i]
	}
	if i >= len(s.Completions) {
		return Completion{}, fmt.Errorf("scripted provider exhausted after %d calls", len(s.Completions))
	}
	return s.Completions[i], nil
}
