// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage. Empty URLs select in-memory implementations.
	DatabaseURL string
	RedisURL    string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeRPS           float64

	// Security
	AdminSecret       string
	PortalTokenSecret string
	PortalTokenTTL    time.Duration
	CORSOrigins       []string // portal origins; empty disables CORS headers
	RateLimitRPM      int      // per-merchant API requests per minute

	// Automation
	SweepInterval    time.Duration
	SweepConcurrency int

	// Tracing; empty disables export.
	OTLPEndpoint string
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultStripeRPS        = 25
	DefaultPortalTokenTTL   = 12 * time.Hour
	DefaultSweepInterval    = 15 * time.Minute
	DefaultSweepConcurrency = 4
	DefaultRateLimitRPM     = 120
)

// Load reads configuration from the environment (and a .env file if
// present) and validates it.
func Load() (*Config, error) {
	cfg := Read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads configuration without validating it. Offline tools use it when
// they need only part of the configuration.
func Read() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeRPS:           getEnvFloat("STRIPE_RPS", DefaultStripeRPS),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		PortalTokenSecret:   os.Getenv("PORTAL_TOKEN_SECRET"),
		PortalTokenTTL:      getEnvDuration("PORTAL_TOKEN_TTL", DefaultPortalTokenTTL),
		CORSOrigins:         getEnvList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		SweepConcurrency:    int(getEnvInt64("SWEEP_CONCURRENCY", DefaultSweepConcurrency)),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	var errs []error
	if c.StripeSecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	} else if !strings.HasPrefix(c.StripeSecretKey, "sk_") && !strings.HasPrefix(c.StripeSecretKey, "rk_") {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY must be a secret (sk_) or restricted (rk_) key"))
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	if c.StripeRPS <= 0 {
		errs = append(errs, errors.New("STRIPE_RPS must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.SweepConcurrency <= 0 {
		errs = append(errs, errors.New("SWEEP_CONCURRENCY must be positive"))
	}
	if c.RateLimitRPM <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPM must be positive"))
	}
	if c.PortalTokenTTL <= 0 {
		errs = append(errs, errors.New("PORTAL_TOKEN_TTL must be positive"))
	}
	if c.IsProduction() {
		if c.AdminSecret == "" {
			errs = append(errs, errors.New("ADMIN_SECRET is required in production"))
		}
		if len(c.PortalTokenSecret) < 32 {
			errs = append(errs, errors.New("PORTAL_TOKEN_SECRET must be at least 32 characters in production"))
		}
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration accepts Go durations ("90s", "15m") or bare seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
