// Package config loads the two YAML configuration files the gateway needs
// (provider config and instance/secrets config), applies environment
// overrides, and fails fast on a missing or placeholder API key — mirroring
// original_source/src/config.py's load-YAML-then-override-with-env order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/cuber-it/heinzel-gateway/pkg/apperr"
	"github.com/cuber-it/heinzel-gateway/pkg/internal/retry"
)

// RetryConfig mirrors the YAML retry{} block; zero values fall back to
// retry.DefaultConfig() field by field.
type RetryConfig struct {
	MaxRetries    int     `yaml:"max_retries"`
	InitialDelayS float64 `yaml:"initial_delay_s"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	MaxDelayS     float64 `yaml:"max_delay_s"`
	RetryOn       []int   `yaml:"retry_on"`
}

// ToRetryConfig converts the YAML shape into retry.Config, defaulting any
// field left at its zero value.
func (r RetryConfig) ToRetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	if r.MaxRetries > 0 {
		cfg.MaxRetries = r.MaxRetries
	}
	if r.InitialDelayS > 0 {
		cfg.InitialDelay = time.Duration(r.InitialDelayS * float64(time.Second))
	}
	if r.BackoffFactor > 0 {
		cfg.BackoffFactor = r.BackoffFactor
	}
	if r.MaxDelayS > 0 {
		cfg.MaxDelay = time.Duration(r.MaxDelayS * float64(time.Second))
	}
	if len(r.RetryOn) > 0 {
		set := make(map[int]bool, len(r.RetryOn))
		for _, s := range r.RetryOn {
			set[s] = true
		}
		cfg.RetryOn = set
	}
	return cfg
}

// ProviderFile is the CONFIG_PATH YAML shape: which upstream this instance
// speaks to and how.
type ProviderFile struct {
	Name           string      `yaml:"name"`
	APIBase        string      `yaml:"api_base"`
	DefaultModel   string      `yaml:"default_model"`
	Models         []string    `yaml:"models"`
	EmbeddingModel string      `yaml:"embedding_model"`
	TTSModel       string      `yaml:"tts_model"`
	ImageModel     string      `yaml:"image_model"`
	AudioModel     string      `yaml:"audio_model"`
	APIVersion     string      `yaml:"api_version"`
	Retry          RetryConfig `yaml:"retry"`
}

// RetentionFile is the instance YAML's retention{} block.
type RetentionFile struct {
	LogMaxAgeDays   int  `yaml:"log_max_age_days"`
	LogMaxSizeMB    int  `yaml:"log_max_size_mb"`
	LogCompress     bool `yaml:"log_compress"`
	MetricsMaxAgeDays int `yaml:"metrics_max_age_days"`
}

// DatabaseFile is the instance YAML's database{} block.
type DatabaseFile struct {
	URL string `yaml:"url"`
}

// InstanceFile is the INSTANCE_CONFIG YAML shape: secrets and per-deployment
// behavior toggles.
type InstanceFile struct {
	APIKey      string        `yaml:"api_key"`
	LogRequests bool          `yaml:"log_requests"`
	Database    DatabaseFile  `yaml:"database"`
	Retention   RetentionFile `yaml:"retention"`
}

// Config is the fully resolved, environment-overridden configuration this
// module runs with.
type Config struct {
	ProviderType   string // anthropic | openai | google
	APIBase        string
	DefaultModel   string
	Models         []string
	EmbeddingModel string
	TTSModel       string
	ImageModel     string
	AudioModel     string
	APIVersion     string
	Retry          retry.Config

	APIKey      string
	LogRequests bool
	LogDir      string
	DatabaseURL string
	Retention   RetentionFile
}

// placeholderPrefixes are API key values original_source/src/config.py
// treats as "never actually configured" — template leftovers, not secrets.
var placeholderPrefixes = []string{"sk-...", "sk-ant-...", "sk-placeholder", "YOUR_API_KEY"}

func isPlaceholder(key string) bool {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return true
	}
	for _, p := range placeholderPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// Load reads CONFIG_PATH and INSTANCE_CONFIG, applies the documented
// environment overrides, and validates the result. It returns
// *apperr.StartupMisconfig for any fail-fast condition.
func Load() (*Config, error) {
	providerPath := os.Getenv("CONFIG_PATH")
	if providerPath == "" {
		return nil, apperr.NewStartupMisconfig("CONFIG_PATH is required")
	}
	providerBytes, err := os.ReadFile(providerPath)
	if err != nil {
		return nil, apperr.NewStartupMisconfig("reading CONFIG_PATH %q: %v", providerPath, err)
	}
	var pf ProviderFile
	if err := yaml.Unmarshal(providerBytes, &pf); err != nil {
		return nil, apperr.NewStartupMisconfig("parsing CONFIG_PATH %q: %v", providerPath, err)
	}

	var insf InstanceFile
	if instancePath := os.Getenv("INSTANCE_CONFIG"); instancePath != "" {
		instanceBytes, err := os.ReadFile(instancePath)
		if err != nil {
			return nil, apperr.NewStartupMisconfig("reading INSTANCE_CONFIG %q: %v", instancePath, err)
		}
		if err := yaml.Unmarshal(instanceBytes, &insf); err != nil {
			return nil, apperr.NewStartupMisconfig("parsing INSTANCE_CONFIG %q: %v", instancePath, err)
		}
	}

	cfg := &Config{
		ProviderType:   os.Getenv("PROVIDER_TYPE"),
		APIBase:        pf.APIBase,
		DefaultModel:   pf.DefaultModel,
		Models:         pf.Models,
		EmbeddingModel: pf.EmbeddingModel,
		TTSModel:       pf.TTSModel,
		ImageModel:     pf.ImageModel,
		AudioModel:     pf.AudioModel,
		APIVersion:     pf.APIVersion,
		Retry:          pf.Retry.ToRetryConfig(),
		APIKey:         insf.APIKey,
		LogRequests:    insf.LogRequests,
		LogDir:         "/data",
		DatabaseURL:    insf.Database.URL,
		Retention:      insf.Retention,
	}
	if pf.Name != "" && cfg.ProviderType == "" {
		cfg.ProviderType = pf.Name
	}
	if cfg.Retention.LogMaxAgeDays <= 0 {
		cfg.Retention.LogMaxAgeDays = 30
	}
	if cfg.Retention.MetricsMaxAgeDays <= 0 {
		cfg.Retention.MetricsMaxAgeDays = 90
	}

	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LOG_REQUESTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, apperr.NewStartupMisconfig("LOG_REQUESTS must be a bool, got %q", v)
		}
		cfg.LogRequests = b
	}

	switch cfg.ProviderType {
	case "anthropic":
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			cfg.APIKey = v
		}
	case "openai":
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			cfg.APIKey = v
		}
	case "google":
		if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
			cfg.APIKey = v
		}
	}

	if cfg.ProviderType == "" {
		return nil, apperr.NewStartupMisconfig("PROVIDER_TYPE (or provider YAML name) is required")
	}
	if pf.APIBase == "" {
		return nil, apperr.NewStartupMisconfig("provider config %q: api_base is required", providerPath)
	}
	if pf.DefaultModel == "" {
		return nil, apperr.NewStartupMisconfig("provider config %q: default_model is required", providerPath)
	}

	switch cfg.ProviderType {
	case "anthropic", "openai", "google":
		if isPlaceholder(cfg.APIKey) {
			return nil, apperr.NewStartupMisconfig("missing or placeholder API key for provider %q", cfg.ProviderType)
		}
	default:
		return nil, apperr.NewStartupMisconfig("unknown PROVIDER_TYPE %q: must be anthropic, openai or google", cfg.ProviderType)
	}

	return cfg, nil
}

// String renders the config with the API key redacted, for startup logging.
func (c Config) String() string {
	return fmt.Sprintf("provider=%s api_base=%s default_model=%s log_dir=%s database_url=%s",
		c.ProviderType, c.APIBase, c.DefaultModel, c.LogDir, redactURL(c.DatabaseURL))
}

func redactURL(url string) string {
	if url == "" {
		return ""
	}
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i] + "://***"
	}
	return "***"
}
