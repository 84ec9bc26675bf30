// Package inference wraps the external text-inference provider behind the
// rate limiter, with operation-level retries and typed error translation.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"
)

// RateLimitKey is the fixed operation key every provider call is budgeted
// under. All callers share this budget; see internal/ratelimit.
const RateLimitKey = "inference"

// Params are the generation knobs exposed to callers.
type Params struct {
	MaxNewTokens int32
	Temperature  float32
}

// ErrMissingAPIKey indicates the provider was constructed without an API key.
// This is a fatal configuration error, surfaced at construction time.
var ErrMissingAPIKey = errors.New("inference provider API key is not set")

// Provider is a single text-completion call against an external model.
type Provider interface {
	// Generate sends the prompt and returns the raw completion text.
	Generate(ctx context.Context, prompt string, params Params) (string, error)

	// ID identifies the provider, stamped into enrichment records as
	// their source.
	ID() string
}

// GeminiProvider is the concrete Provider backed by the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini-backed provider. baseURL may be empty to
// use the default endpoint; a missing API key fails construction with
// ErrMissingAPIKey.
func NewGeminiProvider(ctx context.Context, baseURL, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("NewGeminiProvider: %w", ErrMissingAPIKey)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: "v1",
			BaseURL:    baseURL,
		},
		// Hard ceiling on a single provider call so a stalled endpoint
		// cannot wedge the enrichment pipeline.
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiProvider: create genai client: %w", err)
	}

	return &GeminiProvider{client: client, model: model}, nil
}

// ID implements the Provider interface.
func (p *GeminiProvider) ID() string {
	return "gemini:" + p.model
}

// Generate implements the Provider interface.
func (p *GeminiProvider) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(params.Temperature),
		MaxOutputTokens: params.MaxNewTokens,
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("Generate: generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("Generate: empty response from model")
	}

	return text, nil
}

var _ Provider = (*GeminiProvider)(nil)
