package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuber-it/heinzel-gateway/pkg/apperr"
)

func writeYAML(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const providerYAML = `
name: anthropic
api_base: https://api.anthropic.com
default_model: claude-sonnet-4
models:
  - claude-sonnet-4
retry:
  max_retries: 5
  initial_delay_s: 0.5
`

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", writeYAML(t, "provider.yaml", providerYAML))
	t.Setenv("INSTANCE_CONFIG", "")
	t.Setenv("PROVIDER_TYPE", "anthropic")
	t.Setenv("LOG_DIR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOG_REQUESTS", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
}

func TestLoad_RejectsMissingKey(t *testing.T) {
	setBaseEnv(t)

	_, err := Load()
	var mc *apperr.StartupMisconfig
	if !errors.As(err, &mc) {
		t.Fatalf("expected StartupMisconfig for missing API key, got %v", err)
	}
}

func TestLoad_RejectsPlaceholderKey(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-...")

	_, err := Load()
	var mc *apperr.StartupMisconfig
	if !errors.As(err, &mc) {
		t.Fatalf("expected StartupMisconfig for placeholder key, got %v", err)
	}
}

func TestLoad_EnvOverridesAndRetryConfig(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "real-key")
	t.Setenv("LOG_DIR", "/tmp/logs")
	t.Setenv("DATABASE_URL", "sqlite:///costs.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "real-key" {
		t.Errorf("expected env key to win, got %q", cfg.APIKey)
	}
	if cfg.LogDir != "/tmp/logs" {
		t.Errorf("LOG_DIR override not applied: %q", cfg.LogDir)
	}
	if cfg.DatabaseURL != "sqlite:///costs.db" {
		t.Errorf("DATABASE_URL override not applied: %q", cfg.DatabaseURL)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("retry.max_retries = %d, want 5", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.InitialDelay.Seconds() != 0.5 {
		t.Errorf("retry.initial_delay = %v, want 0.5s", cfg.Retry.InitialDelay)
	}
	// Fields the YAML leaves unset keep their defaults.
	if cfg.Retry.BackoffFactor != 2.0 {
		t.Errorf("expected default backoff factor, got %f", cfg.Retry.BackoffFactor)
	}
	if cfg.Retention.LogMaxAgeDays != 30 || cfg.Retention.MetricsMaxAgeDays != 90 {
		t.Errorf("expected retention defaults 30/90, got %+v", cfg.Retention)
	}
}

func TestLoad_UnknownProviderRejected(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PROVIDER_TYPE", "mystery")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown provider type")
	}
}
