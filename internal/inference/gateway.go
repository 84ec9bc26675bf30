package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-reconciler/internal/ratelimit"
)

// defaultMaxAttempts is the operation-level retry ceiling around transient
// provider faults. Distinct from the rate limiter's retry loop, which only
// waits for window capacity.
const defaultMaxAttempts = 3

// UnavailableError is returned once the gateway has exhausted its retries
// against a failing provider. It wraps the last provider error.
type UnavailableError struct {
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("inference provider unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Gateway routes every provider call through the rate limiter and retries
// transient provider faults with linear backoff, logging each attempt.
type Gateway struct {
	provider    Provider
	limiter     *ratelimit.Limiter
	log         zerolog.Logger
	maxAttempts int

	// Overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a Gateway around the given provider and limiter.
func NewGateway(provider Provider, limiter *ratelimit.Limiter, log zerolog.Logger) *Gateway {
	return &Gateway{
		provider:    provider,
		limiter:     limiter,
		log:         log,
		maxAttempts: defaultMaxAttempts,
		sleep:       sleepContext,
	}
}

// ProviderID exposes the wrapped provider's identifier for enrichment stamps.
func (g *Gateway) ProviderID() string {
	return g.provider.ID()
}

// Generate calls the provider under the shared inference budget. Transient
// provider errors are retried up to the attempt ceiling; rate-limit
// exhaustion and configuration errors surface immediately, since retrying
// them here would only fight the limiter's own schedule.
func (g *Gateway) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		var text string
		err := g.limiter.Do(ctx, RateLimitKey, func(ctx context.Context) error {
			out, genErr := g.provider.Generate(ctx, prompt, params)
			if genErr != nil {
				return genErr
			}
			text = out
			return nil
		})
		if err == nil {
			return text, nil
		}

		var exceeded *ratelimit.ExceededError
		if errors.As(err, &exceeded) || errors.Is(err, ratelimit.ErrUnknownKey) || errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("Generate: %w", err)
		}

		lastErr = err
		g.log.Warn().
			Err(err).
			Str("operation_key", RateLimitKey).
			Int("attempt", attempt).
			Int("max_attempts", g.maxAttempts).
			Msg("Inference call failed")

		if attempt < g.maxAttempts {
			if sleepErr := g.sleep(ctx, ratelimit.Delay(ratelimit.BackoffLinear, attempt)); sleepErr != nil {
				return "", fmt.Errorf("Generate: waiting to retry: %w", sleepErr)
			}
		}
	}

	return "", &UnavailableError{Attempts: g.maxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
