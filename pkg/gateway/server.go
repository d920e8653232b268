// Package gateway implements the HTTP surface (C7): one chi router exposing
// the canonical chat/streaming/embeddings/batches/moderation/audio/images
// endpoints plus a small set of ops endpoints, all driven by a single
// wired translator.Translator instance.
//
// Grounded on the teacher's examples/chi-server/main.go for the
// router/middleware/CORS shape, generalized from one "/generate" route to
// the full surface the spec names.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/cuber-it/heinzel-gateway/pkg/config"
	"github.com/cuber-it/heinzel-gateway/pkg/internal/retry"
	"github.com/cuber-it/heinzel-gateway/pkg/session"
	"github.com/cuber-it/heinzel-gateway/pkg/translator"
)

// Server holds every wired component the handlers need.
type Server struct {
	rt *config.Runtime

	mu          sync.Mutex
	connected   bool
	connectedAt time.Time
}

// New wraps an already-bootstrapped Runtime in a Server.
func New(rt *config.Runtime) *Server {
	return &Server{rt: rt}
}

// Router builds the full chi.Mux: request-id/logging/recovery/timeout
// middleware, permissive CORS (matching the teacher's example), then every
// route spec.md/SPEC_FULL.md §4.6 names.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"*"},
	}))

	r.Post("/connect", s.handleConnect)
	r.Post("/disconnect", s.handleDisconnect)
	r.Post("/reset", s.handleReset)
	r.Get("/health", s.handleHealth)
	r.Get("/capabilities", s.handleCapabilities)
	r.Get("/status", s.handleStatus)
	r.Get("/models", s.handleListModels)
	r.Get("/models/{id}", s.handleGetModel)

	r.Post("/chat", s.handleChat)
	r.Post("/chat/stream", s.handleChatStream)
	r.Post("/tokens/count", s.handleCountTokens)
	r.Post("/embeddings", s.handleEmbeddings)

	r.Post("/batches", s.handleCreateBatch)
	r.Get("/batches", s.handleListBatches)
	r.Get("/batches/{id}", s.handleGetBatch)
	r.Post("/batches/{id}/cancel", s.handleCancelBatch)
	r.Get("/batches/{id}/results", s.handleBatchResults)

	r.Post("/moderations", s.handleModerations)
	r.Post("/audio/transcriptions", s.handleTranscribe)
	r.Post("/audio/translations", s.handleTranslateAudio)
	r.Post("/audio/speech", s.handleSpeak)
	r.Post("/images/generations", s.handleGenerateImages)
	r.Post("/images/edits", s.handleEditImage)
	r.Post("/images/variations", s.handleVaryImage)

	r.Post("/logging/enable", s.handleLoggingEnable)
	r.Post("/logging/disable", s.handleLoggingDisable)
	r.Get("/logging/status", s.handleLoggingStatus)
	r.Post("/retention/run", s.handleRetentionRun)
	r.Get("/logs", s.handleLogs)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/metrics/rate-limits", s.handleMetricsRateLimits)
	r.Get("/metrics/summary", s.handleMetricsSummary)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		s.rt.Log.Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(req.Context())).
			Msg("request")
	})
}

// newCorrelationID mints a request/session correlation id when the caller
// did not supply one, using the teacher's provider-call-id generator.
func newCorrelationID() string {
	return uuid.NewString()
}

func (s *Server) tr() translator.Translator { return s.rt.Translator }

func (s *Server) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Server) connectedSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedAt
}

func (s *Server) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	if v {
		s.connectedAt = time.Now()
	}
	s.mu.Unlock()
}

// ensureConnected lazily establishes the upstream connection before the
// first chat call; a failed attempt is not fatal here, the chat call itself
// will surface the real error.
func (s *Server) ensureConnected(ctx context.Context) {
	if s.isConnected() {
		return
	}
	if err := s.tr().Connect(ctx); err == nil {
		s.setConnected(true)
	}
}

func (s *Server) sessions() *session.Store { return s.rt.Sessions }

func (s *Server) retryConfig() retry.Config { return s.rt.Retry }
