// Package config loads service configuration from the environment (with
// optional .env support) and the YAML rate-limit table.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/expense-reconciler/internal/inference"
	"github.com/dvloznov/expense-reconciler/internal/ratelimit"
)

// Config is the full configuration surface of the service binaries.
type Config struct {
	// BigQuery project and dataset holding the ledger tables.
	ProjectID string
	Dataset   string

	// GCS bucket receipt documents are registered from.
	ReceiptsBucket string

	// Inference provider settings. BaseURL may be empty for the default
	// endpoint; the API key is required by the provider constructor.
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	// HTTPAddr is the listen address of the API server.
	HTTPAddr string

	// RateLimits is the per-operation-key budget table.
	RateLimits map[string]ratelimit.KeyConfig
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present (never an error when missing). When
// RATE_LIMITS_FILE is set, the rate-limit table is read from that YAML file;
// otherwise built-in defaults apply.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ProjectID:      getenv("BIGQUERY_PROJECT_ID", ""),
		Dataset:        getenv("BIGQUERY_DATASET", "expenses"),
		ReceiptsBucket: getenv("RECEIPTS_BUCKET", ""),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:  os.Getenv("GEMINI_BASE_URL"),
		GeminiModel:    getenv("GEMINI_MODEL", "gemini-2.0-flash"),
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		RateLimits:     DefaultRateLimits(),
	}

	if path := os.Getenv("RATE_LIMITS_FILE"); path != "" {
		limits, err := LoadRateLimits(path)
		if err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		cfg.RateLimits = limits
	}

	return cfg, nil
}

// DefaultRateLimits is the built-in budget table. The inference key is
// deliberately conservative: free-tier model endpoints throttle hard.
func DefaultRateLimits() map[string]ratelimit.KeyConfig {
	return map[string]ratelimit.KeyConfig{
		inference.RateLimitKey: {
			MaxRequests: 10,
			TimeWindow:  time.Minute,
			Backoff:     ratelimit.BackoffExponential,
			MaxRetries:  5,
		},
	}
}

// rateLimitEntry is the YAML schema for one operation key.
type rateLimitEntry struct {
	MaxRequests  int    `yaml:"max_requests"`
	TimeWindowMs int    `yaml:"time_window_ms"`
	Backoff      string `yaml:"backoff"`
	MaxRetries   int    `yaml:"max_retries"`
}

// LoadRateLimits parses a YAML rate-limit table:
//
//	limits:
//	  inference:
//	    max_requests: 10
//	    time_window_ms: 60000
//	    backoff: exponential
//	    max_retries: 5
func LoadRateLimits(path string) (map[string]ratelimit.KeyConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRateLimits: reading %s: %w", path, err)
	}

	var file struct {
		Limits map[string]rateLimitEntry `yaml:"limits"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("LoadRateLimits: parsing %s: %w", path, err)
	}
	if len(file.Limits) == 0 {
		return nil, fmt.Errorf("LoadRateLimits: %s defines no limits", path)
	}

	limits := make(map[string]ratelimit.KeyConfig, len(file.Limits))
	for key, entry := range file.Limits {
		if entry.MaxRequests <= 0 || entry.TimeWindowMs <= 0 || entry.MaxRetries <= 0 {
			return nil, fmt.Errorf("LoadRateLimits: key %q: max_requests, time_window_ms and max_retries must be positive", key)
		}
		limits[key] = ratelimit.KeyConfig{
			MaxRequests: entry.MaxRequests,
			TimeWindow:  time.Duration(entry.TimeWindowMs) * time.Millisecond,
			Backoff:     ratelimit.BackoffStrategy(entry.Backoff),
			MaxRetries:  entry.MaxRetries,
		}
	}

	return limits, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
