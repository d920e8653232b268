package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuber-it/heinzel-gateway/pkg/canon"
	"github.com/cuber-it/heinzel-gateway/pkg/config"
	"github.com/cuber-it/heinzel-gateway/pkg/coststore"
	"github.com/cuber-it/heinzel-gateway/pkg/dialoglog"
	"github.com/cuber-it/heinzel-gateway/pkg/gateway"
	"github.com/cuber-it/heinzel-gateway/pkg/internal/retry"
	"github.com/cuber-it/heinzel-gateway/pkg/session"
	"github.com/cuber-it/heinzel-gateway/pkg/translator"
)

// stubTranslator serves canned chat responses and records how often the
// upstream-facing methods were hit.
type stubTranslator struct {
	translator.Unimplemented
	chatCalls   int
	streamCalls int
	chunks      []canon.StreamChunk
}

func (s *stubTranslator) Tier(endpoint string) canon.CapabilityTier {
	switch endpoint {
	case "/chat", "/chat/stream", "/models":
		return canon.TierCore
	}
	return ""
}

func (s *stubTranslator) Chat(ctx context.Context, req canon.ChatRequest) (*canon.ChatResponse, error) {
	s.chatCalls++
	return &canon.ChatResponse{
		Content:  "stub says hi",
		Model:    "stub-model",
		Usage:    canon.Usage{InputTokens: 10, OutputTokens: 5},
		Provider: "stub",
	}, nil
}

type stubStream struct {
	chunks []canon.StreamChunk
	pos    int
}

func (s *stubStream) Next(ctx context.Context) (*canon.StreamChunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return &c, nil
}

func (s *stubStream) Close() error { return nil }

func (s *stubTranslator) ChatStream(ctx context.Context, req canon.ChatRequest) (translator.StreamSession, error) {
	s.streamCalls++
	return &stubStream{chunks: s.chunks}, nil
}

func newTestServer(t *testing.T, tr translator.Translator) (*httptest.Server, *config.Runtime) {
	t.Helper()
	dir := t.TempDir()
	store := coststore.Connect(context.Background(), coststore.SQLite, filepath.Join(dir, "costs.db"))
	rt := &config.Runtime{
		Config: &config.Config{
			ProviderType: "anthropic",
			DefaultModel: "stub-model",
			Models:       []string{"stub-model"},
			LogDir:       dir,
			Retry:        retry.DefaultConfig(),
			Retention:    config.RetentionFile{LogMaxAgeDays: 30, MetricsMaxAgeDays: 90},
		},
		Translator: tr,
		DialogLog:  dialoglog.New(tr.Name(), dir, true),
		CostStore:  store,
		Sessions:   session.New(),
		Retry:      retry.DefaultConfig(),
		Tracker:    retry.NewTracker(),
		Log:        zerolog.Nop(),
	}
	srv := httptest.NewServer(gateway.New(rt).Router())
	t.Cleanup(func() {
		srv.Close()
		rt.Shutdown()
	})
	return srv, rt
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func chatRequest(text, sessionID string) canon.ChatRequest {
	return canon.ChatRequest{
		Messages: []canon.ChatMessage{{Role: "user", Content: canon.TextContent(text)}},
		Context:  canon.RequestContext{SessionID: sessionID},
	}
}

func TestChatEndToEnd(t *testing.T) {
	stub := &stubTranslator{Unimplemented: translator.Unimplemented{ProviderName: "stub"}}
	srv, rt := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/chat", chatRequest("hello", "sess-e2e"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out canon.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v, want in=10 out=5", out.Usage)
	}

	rows, err := rt.CostStore.Query(context.Background(), coststore.QueryFilter{})
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 cost row, got %d (%v)", len(rows), err)
	}
	if rows[0].InputTokens != 10 || rows[0].OutputTokens != 5 || rows[0].Status != "success" {
		t.Errorf("cost row = %+v", rows[0])
	}
	if rows[0].LatencyMS < 0 {
		t.Errorf("latency_ms = %d, want >= 0", rows[0].LatencyMS)
	}

	entries, _ := dialoglog.Read(rt.Config.LogDir, "stub", dialoglog.Filter{SessionID: "sess-e2e"})
	var types []string
	for _, e := range entries {
		types = append(types, e.Type)
	}
	if len(entries) != 2 || types[0] != "response" || types[1] != "request" {
		t.Errorf("expected one request and one response entry for the session, got %v", types)
	}
}

func readSSELines(t *testing.T, body io.Reader) []string {
	t.Helper()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(l, "data: ") {
			lines = append(lines, strings.TrimPrefix(l, "data: "))
		}
	}
	return lines
}

func TestChatStreamEndToEnd(t *testing.T) {
	stub := &stubTranslator{
		Unimplemented: translator.Unimplemented{ProviderName: "stub"},
		chunks: []canon.StreamChunk{
			{Type: canon.ChunkUsage, Usage: &canon.Usage{InputTokens: 7}},
			{Type: canon.ChunkContentDelta, Content: "Hello ", Model: "stub-model"},
			{Type: canon.ChunkContentDelta, Content: "world", Model: "stub-model"},
			{Type: canon.ChunkUsage, Usage: &canon.Usage{InputTokens: 7, OutputTokens: 2}},
			{Type: canon.ChunkDone, Model: "stub-model"},
		},
	}
	srv, rt := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/chat/stream", chatRequest("hello", "sess-stream"))
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}

	lines := readSSELines(t, resp.Body)
	if len(lines) == 0 || lines[len(lines)-1] != "[DONE]" {
		t.Fatalf("expected [DONE] terminator, got %v", lines)
	}

	var text strings.Builder
	var sawDone bool
	for _, l := range lines[:len(lines)-1] {
		var chunk canon.StreamChunk
		if err := json.Unmarshal([]byte(l), &chunk); err != nil {
			t.Fatalf("malformed chunk %q: %v", l, err)
		}
		switch chunk.Type {
		case canon.ChunkContentDelta:
			if sawDone {
				t.Error("content after terminal chunk")
			}
			text.WriteString(chunk.Content)
		case canon.ChunkDone:
			sawDone = true
		}
	}
	if !sawDone {
		t.Error("expected a done chunk before [DONE]")
	}
	if text.String() != "Hello world" {
		t.Errorf("concatenated deltas = %q", text.String())
	}

	rows, _ := rt.CostStore.Query(context.Background(), coststore.QueryFilter{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 cost row, got %d", len(rows))
	}
	if rows[0].InputTokens != 7 || rows[0].OutputTokens != 2 {
		t.Errorf("expected reduced stream usage in cost row, got %+v", rows[0])
	}
}

func TestCommandShortCircuit(t *testing.T) {
	stub := &stubTranslator{Unimplemented: translator.Unimplemented{ProviderName: "stub"}}
	srv, _ := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/chat", chatRequest("!status", "sess-cmd"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result struct {
		Command string                 `json:"command"`
		Result  map[string]interface{} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Command != "status" || result.Result["provider"] != "stub" {
		t.Errorf("unexpected command result: %+v", result)
	}
	if stub.chatCalls != 0 {
		t.Errorf("command must never reach the upstream, chat called %d times", stub.chatCalls)
	}
}

func TestCommandShortCircuitStreaming(t *testing.T) {
	stub := &stubTranslator{Unimplemented: translator.Unimplemented{ProviderName: "stub"}}
	srv, _ := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/chat/stream", chatRequest("!status", "sess-cmd"))
	defer resp.Body.Close()

	lines := readSSELines(t, resp.Body)
	if len(lines) != 2 {
		t.Fatalf("expected exactly command_response + [DONE], got %v", lines)
	}
	var chunk canon.StreamChunk
	if err := json.Unmarshal([]byte(lines[0]), &chunk); err != nil {
		t.Fatal(err)
	}
	if chunk.Type != canon.ChunkCommandResponse || chunk.Command != "status" {
		t.Errorf("unexpected first chunk: %+v", chunk)
	}
	if lines[1] != "[DONE]" {
		t.Errorf("expected [DONE] terminator, got %q", lines[1])
	}
	if stub.streamCalls != 0 {
		t.Errorf("command must never open an upstream stream, called %d times", stub.streamCalls)
	}
}

func TestUnimplementedEndpointReturns501(t *testing.T) {
	stub := &stubTranslator{Unimplemented: translator.Unimplemented{ProviderName: "stub"}}
	srv, _ := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/embeddings", canon.EmbeddingRequest{Input: []string{"x"}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", resp.StatusCode)
	}
	var body canon.NotImplementedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "not_yet_implemented" || body.Provider != "stub" {
		t.Errorf("unexpected 501 body: %+v", body)
	}
}

func TestSessionParamsApplyToChat(t *testing.T) {
	stub := &capturingTranslator{stubTranslator{Unimplemented: translator.Unimplemented{ProviderName: "stub"}}, canon.ChatRequest{}}
	srv, _ := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/chat", chatRequest("!set max_tokens=77", "sess-params"))
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/chat", chatRequest("hello", "sess-params"))
	resp.Body.Close()

	if stub.lastReq.MaxTokens != 77 {
		t.Errorf("expected !set override applied to the next chat, got max_tokens=%d", stub.lastReq.MaxTokens)
	}
	if stub.lastReq.Model != "stub-model" {
		t.Errorf("expected default model fill, got %q", stub.lastReq.Model)
	}
}

type capturingTranslator struct {
	stubTranslator
	lastReq canon.ChatRequest
}

func (c *capturingTranslator) Chat(ctx context.Context, req canon.ChatRequest) (*canon.ChatResponse, error) {
	c.lastReq = req
	return c.stubTranslator.Chat(ctx, req)
}

func TestRetentionEndpoint(t *testing.T) {
	stub := &stubTranslator{Unimplemented: translator.Unimplemented{ProviderName: "stub"}}
	srv, _ := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/retention/run", struct{}{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"logs", "database"} {
		if _, ok := out[key]; !ok {
			t.Errorf("expected %q in retention result", key)
		}
	}
}

func TestLoggingToggleEndpoints(t *testing.T) {
	stub := &stubTranslator{Unimplemented: translator.Unimplemented{ProviderName: "stub"}}
	srv, rt := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/logging/disable", struct{}{})
	resp.Body.Close()
	if rt.DialogLog.Enabled() {
		t.Error("expected dialog logging disabled")
	}
	resp = postJSON(t, srv.URL+"/logging/enable", struct{}{})
	resp.Body.Close()
	if !rt.DialogLog.Enabled() {
		t.Error("expected dialog logging enabled")
	}
}

func TestHealthEndpoint(t *testing.T) {
	stub := &stubTranslator{Unimplemented: translator.Unimplemented{ProviderName: "stub"}}
	srv, _ := newTestServer(t, stub)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var health canon.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Provider != "stub" {
		t.Errorf("unexpected health: %+v", health)
	}
	if _, err := time.Parse(time.RFC3339, health.Timestamp); err != nil {
		t.Errorf("timestamp not RFC 3339: %v", err)
	}
}
