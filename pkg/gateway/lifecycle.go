package gateway

import (
	"net/http"
	"time"

	"github.com/cuber-it/heinzel-gateway/pkg/canon"
)

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.tr().Connect(r.Context()); err != nil {
		writeError(w, s.tr().Name(), "/connect", err)
		return
	}
	s.setConnected(true)
	writeJSON(w, http.StatusOK, canon.ConnectionStatus{
		Status: "connected", Provider: s.tr().Name(), Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.tr().Disconnect(r.Context()); err != nil {
		writeError(w, s.tr().Name(), "/disconnect", err)
		return
	}
	s.setConnected(false)
	writeJSON(w, http.StatusOK, canon.ConnectionStatus{
		Status: "disconnected", Provider: s.tr().Name(), Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReset drops all tracked session parameters and re-runs Connect,
// matching the "reset" semantics spec.md describes for the gateway surface.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	for _, id := range s.sessions().SessionIDs() {
		s.sessions().Delete(id)
	}
	if err := s.tr().Connect(r.Context()); err != nil {
		writeError(w, s.tr().Name(), "/reset", err)
		return
	}
	s.setConnected(true)
	writeJSON(w, http.StatusOK, canon.ConnectionStatus{
		Status: "connected", Provider: s.tr().Name(), Timestamp: time.Now().UTC().Format(time.RFC3339), Reset: true,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, canon.HealthResponse{
		Status: "ok", Provider: s.tr().Name(), Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// tierEndpoints lists every endpoint declaration used to build a
// CapabilitiesResponse, mirroring the authoritative route table.
var tierEndpoints = []string{
	"/chat", "/chat/stream", "/tokens/count", "/models", "/models/{id}",
	"/embeddings",
	"/batches", "/batches/{id}", "/batches/{id}/cancel", "/batches/{id}/results",
	"/moderations", "/audio/transcriptions", "/audio/translations", "/audio/speech",
	"/images/generations", "/images/edits", "/images/variations",
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	tiers := map[canon.CapabilityTier][]string{}
	for _, ep := range tierEndpoints {
		tier := s.tr().Tier(ep)
		if tier == "" {
			continue
		}
		tiers[tier] = append(tiers[tier], ep)
	}
	writeJSON(w, http.StatusOK, canon.CapabilitiesResponse{
		Provider: s.tr().Name(),
		Tiers:    tiers,
		Features: s.tr().Features(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.retryConfig()
	out := map[string]interface{}{
		"provider":         s.tr().Name(),
		"connected":        s.isConnected(),
		"default_model":    s.rt.Config.DefaultModel,
		"available_models": s.rt.Config.Models,
		"dialog_logging":   s.rt.DialogLog.Enabled(),
		"retry_config": map[string]interface{}{
			"max_retries":     cfg.MaxRetries,
			"initial_delay_s": cfg.InitialDelay.Seconds(),
			"backoff_factor":  cfg.BackoffFactor,
			"max_delay_s":     cfg.MaxDelay.Seconds(),
		},
		"rate_limit_hits":  s.rt.Tracker.Len(),
		"tracked_sessions": s.sessions().Count(),
	}
	if at := s.connectedSince(); !at.IsZero() {
		out["connected_at"] = at.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}
