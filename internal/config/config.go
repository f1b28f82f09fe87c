// Package config loads the engine's typed environment-variable configuration,
// validated with go-playground/validator/v10 the way the teacher's retrieved
// pack validates struct-tagged config (driftmgr's enhanced_config.go).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is every environment variable the engine reads at startup, per
// spec.md §6 plus the ambient additions in SPEC_FULL.md §6.4.
type Config struct {
	Port                    string        `validate:"required"`
	OnstaqAPIURL            string        `validate:"required,url"`
	OnstaqServiceEmail      string        `validate:"required,email"`
	OnstaqServicePassword   string        `validate:"required"`
	PollInterval            time.Duration `validate:"required"`
	MinPollInterval         time.Duration `validate:"required"`
	MaxConcurrentExecutions int           `validate:"required,min=1"`
	DatabaseURL             string        `validate:"required"`

	LogLevel                 string
	OTELEnabled              bool
	OTELServiceName          string
	ErrorSampleRate          int
	RedisURL                 string
	WebhookHMACSecretDefault string
}

var validate = validator.New()

// Load reads Config from the process environment, applying spec.md's
// documented defaults where a variable is optional, and validates the
// result.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                    envOr("PORT", "8080"),
		OnstaqAPIURL:            os.Getenv("ONSTAQ_API_URL"),
		OnstaqServiceEmail:      os.Getenv("ONSTAQ_SERVICE_EMAIL"),
		OnstaqServicePassword:   os.Getenv("ONSTAQ_SERVICE_PASSWORD"),
		MaxConcurrentExecutions: envOrInt("MAX_CONCURRENT_EXECUTIONS", 10),
		DatabaseURL:             os.Getenv("DATABASE_URL"),

		LogLevel:                 envOr("LOG_LEVEL", "INFO"),
		OTELEnabled:              envOrBool("OTEL_ENABLED", false),
		OTELServiceName:          envOr("OTEL_SERVICE_NAME", "automation-engine"),
		ErrorSampleRate:          envOrInt("ERROR_SAMPLE_RATE", 100),
		RedisURL:                 os.Getenv("REDIS_URL"),
		WebhookHMACSecretDefault: os.Getenv("WEBHOOK_HMAC_SECRET_DEFAULT"),
	}

	pollMs := envOrInt("POLL_INTERVAL_MS", 60_000)
	minPollMs := envOrInt("MIN_POLL_INTERVAL_MS", 10_000)
	cfg.PollInterval = time.Duration(pollMs) * time.Millisecond
	cfg.MinPollInterval = time.Duration(minPollMs) * time.Millisecond
	if cfg.PollInterval < cfg.MinPollInterval {
		cfg.PollInterval = cfg.MinPollInterval
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
