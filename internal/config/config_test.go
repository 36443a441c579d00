package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MCS_AUTH_TOKEN", "MCS_LLM_MODEL", "MCS_LLM_MAX_TOKENS", "MCS_LLM_MAX_ATTEMPTS",
		"MCS_CLAIM_TTL", "MCS_MAX_RETRIES", "MCS_MAX_REWORK_CYCLES",
		"MCS_AUDIT_CONFIDENCE_THRESHOLD", "MCS_LOCK_TTL", "MCS_FAST_MODE_DEFAULT",
		"MCS_ROLES", "MCS_DATABASE_URL", "MCS_LISTEN_ADDR", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"MCS_JSON_LOG", "MCS_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func baseEnv(t *testing.T) {
	t.Helper()
	clearEnv(t)
	t.Setenv("MCS_AUTH_TOKEN", "secret")
	t.Setenv("MCS_DATABASE_URL", "postgres://localhost/mcs")
}

func TestLoad_AppliesHardDefaults(t *testing.T) {
	baseEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "claude-sonnet-4-5", cfg.LLMModel)
	require.Equal(t, 4096, cfg.LLMMaxTokens)
	require.Equal(t, 3, cfg.LLMMaxAttempts)
	require.Equal(t, 2, cfg.MaxRetries)
	require.Equal(t, 2, cfg.MaxReworkCycles)
	require.Equal(t, 0.6, cfg.AuditConfidenceThreshold)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.NotEmpty(t, cfg.Roles)
}

func TestLoad_ExplicitZeroMaxRetriesSurvivesLayering(t *testing.T) {
	baseEnv(t)
	t.Setenv("MCS_MAX_RETRIES", "0")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 0, cfg.MaxRetries)
}

func TestLoad_RolesFromCSV(t *testing.T) {
	baseEnv(t)
	t.Setenv("MCS_ROLES", "analyst, developer,  tester")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"analyst": true, "developer": true, "tester": true}, cfg.Roles)
}

func TestLoad_MissingAuthTokenFailsFast(t *testing.T) {
	clearEnv(t)
	t.Setenv("MCS_DATABASE_URL", "postgres://localhost/mcs")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_MissingDatabaseURLFailsFast(t *testing.T) {
	clearEnv(t)
	t.Setenv("MCS_AUTH_TOKEN", "secret")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_EnvOverridesSeedFile(t *testing.T) {
	baseEnv(t)
	seedPath := filepath.Join(t.TempDir(), "mcs.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte("llm_model: claude-haiku-4\n"), 0o600))
	t.Setenv("MCS_LLM_MODEL", "claude-opus-4")
	cfg, err := Load(seedPath)
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4", cfg.LLMModel)
}
