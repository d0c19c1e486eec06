package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Participant banks hosted by this process (comma-separated codes).
	BankCodes []string

	// Routing
	AdapterTimeout      time.Duration // per-leg deadline for adapter calls
	BankHealthThreshold float64       // min rolling success rate (%) to stay routable
	CompensationRetries int           // retry budget for debit reversal
	CompensationBackoff time.Duration // initial backoff for compensation retries
	MaxConcurrency      int

	// Idempotency / caching
	IdempotencyTTL time.Duration
	VPACacheTTL    time.Duration

	// Settlement
	SettlementInterval time.Duration // 0 disables the background scheduler

	// Signature verification
	SigningSecret string

	// Observability
	OTLPEndpoint string

	// Backends
	PostgresDSN string // empty -> in-memory transaction/settlement store
	RedisAddr   string // empty -> in-memory caches

	// Adapter defaults
	DefaultDailyLimitPaisa int64
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		BankCodes: splitCSV(getEnv("BANK_CODES", "HDFC,ICIC,SBIN")),

		AdapterTimeout:      getEnvDuration("ADAPTER_TIMEOUT", 5*time.Second),
		BankHealthThreshold: getEnvFloat("BANK_HEALTH_THRESHOLD", 80),
		CompensationRetries: getEnvInt("COMPENSATION_RETRIES", 3),
		CompensationBackoff: getEnvDuration("COMPENSATION_BACKOFF", 100*time.Millisecond),
		MaxConcurrency:      getEnvInt("MAX_CONCURRENCY", 50),

		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		VPACacheTTL:    getEnvDuration("VPA_CACHE_TTL", 24*time.Hour),

		SettlementInterval: getEnvDuration("SETTLEMENT_INTERVAL", 0),

		SigningSecret: getEnv("SIGNING_SECRET", "upi-switch-dev-secret-change-me"),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),

		DefaultDailyLimitPaisa: getEnvInt64("DEFAULT_DAILY_LIMIT_PAISA", 10_000_000), // ₹1,00,000
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
