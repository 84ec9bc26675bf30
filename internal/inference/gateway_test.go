package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-reconciler/internal/ratelimit"
)

// stubProvider fails a configurable number of times before succeeding.
type stubProvider struct {
	failures int
	calls    int
	reply    string
}

func (p *stubProvider) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	p.calls++
	if p.calls <= p.failures {
		return "", errors.New("connection reset")
	}
	return p.reply, nil
}

func (p *stubProvider) ID() string {
	return "stub"
}

func testGateway(p Provider, configs map[string]ratelimit.KeyConfig) *Gateway {
	if configs == nil {
		configs = map[string]ratelimit.KeyConfig{
			RateLimitKey: {MaxRequests: 100, TimeWindow: time.Minute, Backoff: ratelimit.BackoffLinear, MaxRetries: 3},
		}
	}
	limiter := ratelimit.New(configs, zerolog.Nop())
	g := NewGateway(p, limiter, zerolog.Nop())
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return g
}

func TestGatewayGenerateSucceeds(t *testing.T) {
	provider := &stubProvider{reply: "Industry: Coffee"}
	g := testGateway(provider, nil)

	got, err := g.Generate(context.Background(), "describe", Params{MaxNewTokens: 200, Temperature: 0.2})
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if got != "Industry: Coffee" {
		t.Errorf("Generate() = %q, want %q", got, "Industry: Coffee")
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
}

func TestGatewayRetriesTransientFaults(t *testing.T) {
	provider := &stubProvider{failures: 2, reply: "ok"}
	g := testGateway(provider, nil)

	got, err := g.Generate(context.Background(), "describe", Params{})
	if err != nil {
		t.Fatalf("Generate() failed after transient faults: %v", err)
	}
	if got != "ok" {
		t.Errorf("Generate() = %q, want %q", got, "ok")
	}
	if provider.calls != 3 {
		t.Errorf("provider called %d times, want 3", provider.calls)
	}
}

func TestGatewaySurfacesLastErrorAfterRetries(t *testing.T) {
	provider := &stubProvider{failures: 10}
	g := testGateway(provider, nil)

	_, err := g.Generate(context.Background(), "describe", Params{})

	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected *UnavailableError, got %v", err)
	}
	if unavailable.Attempts != defaultMaxAttempts {
		t.Errorf("Attempts = %d, want %d", unavailable.Attempts, defaultMaxAttempts)
	}
	if provider.calls != defaultMaxAttempts {
		t.Errorf("provider called %d times, want %d", provider.calls, defaultMaxAttempts)
	}
}

func TestGatewayDoesNotRetryRateLimitExhaustion(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	configs := map[string]ratelimit.KeyConfig{
		RateLimitKey: {MaxRequests: 0, TimeWindow: time.Hour, Backoff: ratelimit.BackoffLinear, MaxRetries: 1},
	}
	limiter := ratelimit.New(configs, zerolog.Nop())
	g := NewGateway(provider, limiter, zerolog.Nop())
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	// Keep the limiter's own backoff instant as well.
	start := time.Now()
	_, err := g.Generate(context.Background(), "describe", Params{})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Generate() blocked for %v", elapsed)
	}

	var exceeded *ratelimit.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected *ratelimit.ExceededError, got %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times, want 0", provider.calls)
	}
}

func TestNewGeminiProviderRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), "", "", "gemini-2.0-flash")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
