// Package ratelimit enforces a per-key sliding request budget with
// configurable backoff for every external call the engine makes.
//
// A Limiter instance is injected into each component that performs external
// calls; there is no package-level shared state. Counters are process-local
// and reset to a fresh window on restart.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BackoffStrategy selects the delay-growth rule applied between retries.
type BackoffStrategy string

const (
	// BackoffLinear delays attempt n by n seconds.
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential delays attempt n by 2^(n-1) seconds.
	BackoffExponential BackoffStrategy = "exponential"
)

// baseDelay is the unit step both strategies grow from.
const baseDelay = 1000 * time.Millisecond

// KeyConfig is the rate budget for one logical operation key.
type KeyConfig struct {
	MaxRequests int
	TimeWindow  time.Duration
	Backoff     BackoffStrategy
	MaxRetries  int
}

// ErrUnknownKey indicates a call under a key no budget was configured for.
// This is a fatal misconfiguration, never retried.
var ErrUnknownKey = errors.New("no rate limit configured for operation key")

// ExceededError is returned once a call has exhausted its retry budget
// waiting for window capacity.
type ExceededError struct {
	Key      string
	Attempts int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for key %q after %d attempts", e.Key, e.Attempts)
}

// keyState tracks the current window for one key.
type keyState struct {
	requestCount int
	windowStart  time.Time
}

// Limiter enforces the configured budgets. Safe for concurrent use; the
// backoff sleep happens outside the lock so a saturated key never blocks
// callers on other keys.
type Limiter struct {
	mu      sync.Mutex
	configs map[string]KeyConfig
	states  map[string]*keyState
	log     zerolog.Logger

	// Overridable in tests to make backoff timing deterministic.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter from the per-key configuration table.
func New(configs map[string]KeyConfig, log zerolog.Logger) *Limiter {
	return &Limiter{
		configs: configs,
		states:  make(map[string]*keyState),
		log:     log,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Do runs op under the budget of the given key. If the current window is
// full it backs off per the key's strategy and retries, up to MaxRetries
// attempts, then fails with *ExceededError. An error returned by op itself
// propagates immediately; the attempt stays consumed against the window.
func (l *Limiter) Do(ctx context.Context, key string, op func(ctx context.Context) error) error {
	cfg, ok := l.configs[key]
	if !ok {
		return fmt.Errorf("Do: %w: %q", ErrUnknownKey, key)
	}

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if l.acquire(key, cfg) {
			return op(ctx)
		}

		delay := Delay(cfg.Backoff, attempt)
		l.log.Warn().
			Str("operation_key", key).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Rate limit window full, backing off")

		if err := l.sleep(ctx, delay); err != nil {
			return fmt.Errorf("Do: waiting for rate limit window: %w", err)
		}
	}

	return &ExceededError{Key: key, Attempts: cfg.MaxRetries}
}

// acquire consumes one slot from the key's current window if capacity
// remains. The window resets lazily whenever TimeWindow has elapsed.
func (l *Limiter) acquire(key string, cfg KeyConfig) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[key]
	if !ok {
		st = &keyState{windowStart: l.now()}
		l.states[key] = st
	}

	if l.now().Sub(st.windowStart) >= cfg.TimeWindow {
		st.requestCount = 0
		st.windowStart = l.now()
	}

	if st.requestCount >= cfg.MaxRequests {
		return false
	}

	st.requestCount++
	return true
}

// Delay returns the backoff delay before retry attempt n (1-based).
// Unrecognized strategies fall back to linear.
func Delay(strategy BackoffStrategy, attempt int) time.Duration {
	switch strategy {
	case BackoffExponential:
		return baseDelay * time.Duration(1<<(attempt-1))
	default:
		return baseDelay * time.Duration(attempt)
	}
}

// sleepContext sleeps for d unless the context is cancelled first.
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
