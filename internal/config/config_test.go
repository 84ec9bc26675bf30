package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/expense-reconciler/internal/ratelimit"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "limits.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp yaml: %v", err)
	}
	return path
}

func TestLoadRateLimits(t *testing.T) {
	path := writeTempYAML(t, `
limits:
  inference:
    max_requests: 10
    time_window_ms: 60000
    backoff: exponential
    max_retries: 5
  merchant_lookup:
    max_requests: 100
    time_window_ms: 1000
    backoff: linear
    max_retries: 3
`)

	limits, err := LoadRateLimits(path)
	if err != nil {
		t.Fatalf("LoadRateLimits() failed: %v", err)
	}

	inf, ok := limits["inference"]
	if !ok {
		t.Fatal("missing inference key")
	}
	want := ratelimit.KeyConfig{
		MaxRequests: 10,
		TimeWindow:  time.Minute,
		Backoff:     ratelimit.BackoffExponential,
		MaxRetries:  5,
	}
	if inf != want {
		t.Errorf("inference config = %+v, want %+v", inf, want)
	}

	if _, ok := limits["merchant_lookup"]; !ok {
		t.Error("missing merchant_lookup key")
	}
}

func TestLoadRateLimitsRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "empty table",
			content: "limits: {}\n",
		},
		{
			name: "zero window",
			content: `
limits:
  inference:
    max_requests: 10
    time_window_ms: 0
    backoff: linear
    max_retries: 3
`,
		},
		{
			name:    "not yaml",
			content: "{{{",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempYAML(t, tt.content)
			if _, err := LoadRateLimits(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RATE_LIMITS_FILE", "")
	t.Setenv("BIGQUERY_DATASET", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("GEMINI_MODEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Dataset != "expenses" {
		t.Errorf("Dataset = %q, want default", cfg.Dataset)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want default", cfg.HTTPAddr)
	}
	if len(cfg.RateLimits) == 0 {
		t.Error("expected default rate limits")
	}
}
