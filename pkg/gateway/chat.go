package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cuber-it/heinzel-gateway/pkg/apperr"
	"github.com/cuber-it/heinzel-gateway/pkg/canon"
	"github.com/cuber-it/heinzel-gateway/pkg/command"
	"github.com/cuber-it/heinzel-gateway/pkg/coststore"
	"github.com/cuber-it/heinzel-gateway/pkg/internal/retry"
	"github.com/cuber-it/heinzel-gateway/pkg/providerutils/streaming"
	"github.com/cuber-it/heinzel-gateway/pkg/translator"
)

// commandTrigger reports whether req's final message is a "!"-prefixed
// command invocation, returning its parsed form when it is.
func commandTrigger(req canon.ChatRequest) (command.Parsed, bool) {
	if len(req.Messages) == 0 {
		return command.Parsed{}, false
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return command.Parsed{}, false
	}
	text := last.Content.String()
	if !command.IsCommand(text) {
		return command.Parsed{}, false
	}
	return command.Parse(text), true
}

func (s *Server) commandDeps() command.Deps {
	cfg := s.retryConfig()
	return command.Deps{
		Provider:        s.tr().Name(),
		Model:           s.rt.Config.DefaultModel,
		Connected:       s.isConnected(),
		Sessions:        s.sessions(),
		DialogLog:       s.rt.DialogLog,
		AvailableModels: s.rt.Config.Models,
		RetryConfig: map[string]interface{}{
			"max_retries":     cfg.MaxRetries,
			"initial_delay_s": cfg.InitialDelay.Seconds(),
			"backoff_factor":  cfg.BackoffFactor,
			"max_delay_s":     cfg.MaxDelay.Seconds(),
		},
		RateLimitHits: s.rt.Tracker.Len(),
	}
}

// applySessionParams fills request fields the caller left unset from the
// session's !set overrides. Only an explicitly supplied session_id has
// overrides; a minted correlation id never matches a tracked session.
func (s *Server) applySessionParams(req canon.ChatRequest) canon.ChatRequest {
	if req.Context.SessionID == "" {
		return req
	}
	params := s.sessions().Get(req.Context.SessionID)
	if req.Model == "" && params.Model != nil {
		req.Model = *params.Model
	}
	if req.Temperature == nil && params.Temperature != nil {
		req.Temperature = params.Temperature
	}
	if req.MaxTokens == 0 && params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	return req
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req canon.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start := time.Now()
	sessionID := req.Context.SessionID
	if sessionID == "" {
		sessionID = newCorrelationID()
	}

	if p, ok := commandTrigger(req); ok {
		result := command.Execute(p, sessionID, s.commandDeps())
		writeJSON(w, http.StatusOK, result)
		return
	}

	req = s.applySessionParams(req)
	if req.Model == "" {
		req.Model = s.rt.Config.DefaultModel
	}
	s.ensureConnected(r.Context())

	_ = s.rt.DialogLog.LogRequest("/chat", req, sessionID, req.Context.HeinzelID, req.Context.TaskID)

	var resp *canon.ChatResponse
	err := retry.Do(r.Context(), s.retryConfig(), s.rt.Tracker, func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.tr().Chat(ctx, req)
		return callErr
	})
	latency := int(time.Since(start).Milliseconds())

	if err != nil {
		appErr := toAppError(err, s.retryConfig())
		_ = s.rt.DialogLog.LogError("/chat", appErr.Error(), sessionID, req.Context.HeinzelID, req.Context.TaskID)
		s.recordCost(r.Context(), req, sessionID, "", 0, 0, latency, statusFor(appErr), appErr.Error())
		writeError(w, s.tr().Name(), "/chat", appErr)
		return
	}

	_ = s.rt.DialogLog.LogResponse("/chat", http.StatusOK, resp, sessionID, req.Context.HeinzelID, req.Context.TaskID)
	s.recordCost(r.Context(), req, sessionID, resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, latency, "success", "")
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) string {
	if apperr.IsRateLimitExhausted(err) {
		return "rate_limit"
	}
	return "error"
}

func (s *Server) recordCost(ctx context.Context, req canon.ChatRequest, sessionID, model string, in, out, latencyMS int, status, errMsg string) {
	s.rt.CostStore.LogRequest(ctx, coststore.CostRow{
		Timestamp:    time.Now(),
		Provider:     s.tr().Name(),
		Model:        firstNonEmpty(model, req.Model, s.rt.Config.DefaultModel),
		InputTokens:  in,
		OutputTokens: out,
		LatencyMS:    latencyMS,
		HeinzelID:    req.Context.HeinzelID,
		SessionID:    sessionID,
		TaskID:       req.Context.TaskID,
		Status:       status,
		ErrorMessage: errMsg,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req canon.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start := time.Now()
	sessionID := req.Context.SessionID
	if sessionID == "" {
		sessionID = newCorrelationID()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, _ := w.(http.Flusher)
	sw := streaming.NewSSEWriter(w)

	if p, ok := commandTrigger(req); ok {
		result := command.Execute(p, sessionID, s.commandDeps())
		chunk := canon.StreamChunk{Type: canon.ChunkCommandResponse, Command: result.Command, Result: result.Output}
		writeStreamChunk(sw, chunk)
		_ = sw.WriteDone()
		if flusher != nil {
			flusher.Flush()
		}
		return
	}

	req = s.applySessionParams(req)
	if req.Model == "" {
		req.Model = s.rt.Config.DefaultModel
	}
	s.ensureConnected(r.Context())

	_ = s.rt.DialogLog.LogRequest("/chat/stream", req, sessionID, req.Context.HeinzelID, req.Context.TaskID)

	var sess translator.StreamSession
	// SPEC_FULL.md §4.6 Open Question 1: only the connection-establishment
	// call is retried; once the first byte is read, errors flow through as
	// per-chunk "error" events instead.
	connErr := retry.Do(r.Context(), s.retryConfig(), s.rt.Tracker, func(ctx context.Context) error {
		var callErr error
		sess, callErr = s.tr().ChatStream(ctx, req)
		return callErr
	})
	if connErr != nil {
		appErr := toAppError(connErr, s.retryConfig())
		latency := int(time.Since(start).Milliseconds())
		_ = s.rt.DialogLog.LogError("/chat/stream", appErr.Error(), sessionID, req.Context.HeinzelID, req.Context.TaskID)
		s.recordCost(r.Context(), req, sessionID, "", 0, 0, latency, statusFor(appErr), appErr.Error())
		writeStreamChunk(sw, canon.StreamChunk{Type: canon.ChunkError, Error: appErr.Error()})
		_ = sw.WriteDone()
		if flusher != nil {
			flusher.Flush()
		}
		return
	}
	defer sess.Close()

	var usage canon.Usage
	var model string
	status := "success"
	errMsg := ""
	for {
		chunk, err := sess.Next(r.Context())
		if err != nil {
			if !errors.Is(err, io.EOF) {
				status, errMsg = "error", err.Error()
				writeStreamChunk(sw, canon.StreamChunk{Type: canon.ChunkError, Error: err.Error()})
			}
			break
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = usage.Reduce(*chunk.Usage)
		}
		writeStreamChunk(sw, *chunk)
		if flusher != nil {
			flusher.Flush()
		}
		if chunk.Type == canon.ChunkDone {
			break
		}
	}
	_ = sw.WriteDone()
	if flusher != nil {
		flusher.Flush()
	}

	latency := int(time.Since(start).Milliseconds())
	_ = s.rt.DialogLog.LogResponse("/chat/stream", http.StatusOK, map[string]interface{}{
		"model": model, "usage": usage, "status": status,
	}, sessionID, req.Context.HeinzelID, req.Context.TaskID)
	s.recordCost(r.Context(), req, sessionID, model, usage.InputTokens, usage.OutputTokens, latency, status, errMsg)
}

func writeStreamChunk(sw *streaming.SSEWriter, chunk canon.StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	_ = sw.WriteData(string(data))
}

func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	var req canon.TokenCountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.tr().CountTokens(r.Context(), req)
	if err != nil {
		writeError(w, s.tr().Name(), "/tokens/count", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req canon.EmbeddingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.tr().CreateEmbeddings(r.Context(), req)
	if err != nil {
		writeError(w, s.tr().Name(), "/embeddings", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
