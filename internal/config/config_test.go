package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("ONSTAQ_API_URL", "https://onstaq.example.com")
	t.Setenv("ONSTAQ_SERVICE_EMAIL", "automation@example.com")
	t.Setenv("ONSTAQ_SERVICE_PASSWORD", "hunter2")
	t.Setenv("DATABASE_URL", "postgres://localhost/automation")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 60*time.Second, cfg.PollInterval)
	require.Equal(t, 10*time.Second, cfg.MinPollInterval)
	require.Equal(t, 10, cfg.MaxConcurrentExecutions)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.False(t, cfg.OTELEnabled)
}

func TestLoadFloorsPollIntervalAtMinimum(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POLL_INTERVAL_MS", "1000")
	t.Setenv("MIN_POLL_INTERVAL_MS", "15000")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, cfg.PollInterval)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/automation")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadParsesOptionalOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SERVICE_NAME", "automation-engine-prod")
	t.Setenv("WEBHOOK_HMAC_SECRET_DEFAULT", "fallback-secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.OTELEnabled)
	require.Equal(t, "automation-engine-prod", cfg.OTELServiceName)
	require.Equal(t, "fallback-secret", cfg.WebhookHMACSecretDefault)
}
