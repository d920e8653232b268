package config

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/cuber-it/heinzel-gateway/pkg/coststore"
	"github.com/cuber-it/heinzel-gateway/pkg/dialoglog"
	"github.com/cuber-it/heinzel-gateway/pkg/ingest"
	"github.com/cuber-it/heinzel-gateway/pkg/internal/retry"
	"github.com/cuber-it/heinzel-gateway/pkg/retention"
	"github.com/cuber-it/heinzel-gateway/pkg/session"
	"github.com/cuber-it/heinzel-gateway/pkg/translator"
	"github.com/cuber-it/heinzel-gateway/pkg/translator/claude"
	"github.com/cuber-it/heinzel-gateway/pkg/translator/gemini"
	"github.com/cuber-it/heinzel-gateway/pkg/translator/openai"
)

// Runtime bundles every wired component the gateway surface (C7) drives:
// one translator, the dialog logger, the cost store, the session store, the
// retry config/tracker, and a logger scoped to the resolved provider.
type Runtime struct {
	Config     *Config
	Translator translator.Translator
	DialogLog  *dialoglog.Logger
	CostStore  *coststore.Store
	Sessions   *session.Store
	Retry      retry.Config
	Tracker    *retry.Tracker
	Log        zerolog.Logger
}

// NewLogger builds the process-wide structured logger. Level defaults to
// info; set LOG_LEVEL to override (debug, warn, error, ...).
func NewLogger(provider string) zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Str("provider", provider).
		Logger()
}

// Bootstrap loads configuration and wires every component (C1-C7) into a
// Runtime the gateway surface can drive. It is the single place a new
// translator implementation needs to be registered.
func Bootstrap(ctx context.Context) (*Runtime, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	log := NewLogger(cfg.ProviderType)
	log.Info().Str("config", cfg.String()).Msg("configuration loaded")

	var t translator.Translator
	switch cfg.ProviderType {
	case "anthropic":
		t = claude.New(claude.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.APIBase,
			APIVersion: cfg.APIVersion,
		})
	case "openai":
		t = openai.New(openai.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.APIBase,
			Extractors: ingest.DefaultExtractors(),
		})
	case "google":
		t = gemini.New(gemini.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.APIBase,
		})
	}

	dialect, dsn := coststore.ResolveURL(cfg.DatabaseURL, cfg.LogDir)
	store := coststore.Connect(ctx, dialect, dsn)

	dlog := dialoglog.New(cfg.ProviderType, cfg.LogDir, cfg.LogRequests)

	rt := &Runtime{
		Config:     cfg,
		Translator: t,
		DialogLog:  dlog,
		CostStore:  store,
		Sessions:   session.New(),
		Retry:      cfg.Retry,
		Tracker:    retry.NewTracker(),
		Log:        log,
	}

	rt.sweepAtStartup(ctx)
	return rt, nil
}

// sweepAtStartup runs one retention pass before serving, when a retention
// policy is configured. Failures are logged and never block startup.
func (r *Runtime) sweepAtStartup(ctx context.Context) {
	ret := r.Config.Retention
	if ret.LogMaxAgeDays > 0 {
		res, err := retention.SweepLogs(r.Config.LogDir, ret.LogMaxAgeDays, ret.LogMaxSizeMB, ret.LogCompress)
		if err != nil {
			r.Log.Warn().Err(err).Msg("startup log retention sweep failed")
		} else {
			r.Log.Info().Int("compressed", res.Compressed).Int("deleted", res.Deleted).
				Float64("freed_mb", res.FreedMB).Msg("startup log retention sweep")
		}
	}
	if ret.MetricsMaxAgeDays > 0 {
		res, err := retention.SweepCostRows(ctx, r.CostStore, ret.MetricsMaxAgeDays)
		if err != nil {
			r.Log.Warn().Err(err).Msg("startup metrics retention sweep failed")
		} else {
			r.Log.Info().Int("deleted", res.Deleted).Msg("startup metrics retention sweep")
		}
	}
}

// Shutdown releases the runtime's held resources (DB connection, open log
// file). It does not touch in-flight requests; callers should stop
// accepting new ones first.
func (r *Runtime) Shutdown() {
	if r.CostStore != nil {
		_ = r.CostStore.Disconnect()
	}
	if r.DialogLog != nil {
		_ = r.DialogLog.Close()
	}
}
