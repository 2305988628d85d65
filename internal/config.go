package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// External identity provider (GoTrue-compatible API)
	AuthURL     string
	AuthAPIKey  string
	AuthTimeout time.Duration

	// AccountDomain is the fixed domain synthetic account emails are
	// derived under (username@<AccountDomain>). It must stay stable:
	// changing it breaks login for every previously created account.
	AccountDomain string

	// Credential endpoint rate limiting
	AuthRateLimit       int
	AuthRateLimitWindow time.Duration

	// Metrics endpoint authentication.
	// If both are empty, the /metrics endpoint will be unprotected.
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		AuthAPIKey:  getEnv("AUTH_API_KEY", ""),
		AuthTimeout: getEnvDuration("AUTH_TIMEOUT", 10*time.Second),

		// The reserved deployment domain. Syntactically valid for the
		// provider's email validator, never used for mail delivery.
		AccountDomain: getEnv("ACCOUNT_DOMAIN", "visionplus.app"),

		AuthRateLimit:       getEnvInt("AUTH_RATE_LIMIT", 10),
		AuthRateLimitWindow: getEnvDuration("AUTH_RATE_LIMIT_WINDOW", time.Minute),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.AuthURL = strings.TrimRight(os.Getenv("AUTH_URL"), "/")
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("AUTH_URL is required")
	}

	if strings.TrimSpace(cfg.AccountDomain) == "" {
		return nil, fmt.Errorf("ACCOUNT_DOMAIN must not be empty")
	}
	if strings.Contains(cfg.AccountDomain, "@") {
		return nil, fmt.Errorf("ACCOUNT_DOMAIN must not contain '@', got: %s", cfg.AccountDomain)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
