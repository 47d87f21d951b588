package embedding

import (
	"os"
	"strconv"
	"strings"
)

// Config tunes the resilience pipeline around the raw embedding client:
// bounded retry with backoff, a circuit breaker, and a content-keyed LRU
// cache with expiration.
type Config struct {
	Enabled           bool // toggles the cache, not the service
	MaxCachedItems    int
	ExpirationHours   int
	MaxRetryAttempts  int
	InitialDelayMs    int
	MaxDelayMs        int
	BackoffMultiplier float64
	UseJitter         bool

	CircuitFailureRatio  float64
	CircuitMinThroughput int
	CircuitSamplingSec   int
	CircuitBreakSec      int

	TimeoutSec int
}

func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxCachedItems:       4096,
		ExpirationHours:      24,
		MaxRetryAttempts:     3,
		InitialDelayMs:       200,
		MaxDelayMs:           5000,
		BackoffMultiplier:    2.0,
		UseJitter:            true,
		CircuitFailureRatio:  0.5,
		CircuitMinThroughput: 10,
		CircuitSamplingSec:   30,
		CircuitBreakSec:      30,
		TimeoutSec:           60,
	}
}

func ResolveConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv("EMBED_CACHE_ENABLED")); v != "" {
		cfg.Enabled = v != "0" && !strings.EqualFold(v, "false")
	}
	intFromEnv("EMBED_CACHE_MAX_ITEMS", &cfg.MaxCachedItems)
	intFromEnv("EMBED_CACHE_EXPIRATION_HOURS", &cfg.ExpirationHours)
	intFromEnv("EMBED_MAX_RETRY_ATTEMPTS", &cfg.MaxRetryAttempts)
	intFromEnv("EMBED_INITIAL_DELAY_MS", &cfg.InitialDelayMs)
	intFromEnv("EMBED_MAX_DELAY_MS", &cfg.MaxDelayMs)
	intFromEnv("EMBED_CIRCUIT_MIN_THROUGHPUT", &cfg.CircuitMinThroughput)
	intFromEnv("EMBED_CIRCUIT_SAMPLING_SECONDS", &cfg.CircuitSamplingSec)
	intFromEnv("EMBED_CIRCUIT_BREAK_SECONDS", &cfg.CircuitBreakSec)
	intFromEnv("EMBED_TIMEOUT_SECONDS", &cfg.TimeoutSec)
	if v := strings.TrimSpace(os.Getenv("EMBED_CIRCUIT_FAILURE_RATIO")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 && parsed <= 1 {
			cfg.CircuitFailureRatio = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("EMBED_USE_JITTER")); v != "" {
		cfg.UseJitter = v != "0" && !strings.EqualFold(v, "false")
	}
	return cfg
}

func intFromEnv(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			*dst = parsed
		}
	}
}
