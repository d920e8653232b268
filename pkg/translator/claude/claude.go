// Package claude implements the Claude-style wire translator: native
// /v1/messages request/response shape, x-api-key + anthropic-version
// headers, native image/PDF content blocks, and an SSE event stream keyed
// by a "type" discriminator (message_start, content_block_delta, ...).
//
// Grounded on the language model client this module's teacher used for the
// same wire protocol, generalized here to the gateway's one-translator-
// per-instance shape instead of a per-call many-models client.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cuber-it/heinzel-gateway/pkg/apperr"
	"github.com/cuber-it/heinzel-gateway/pkg/canon"
	internalhttp "github.com/cuber-it/heinzel-gateway/pkg/internal/http"
	"github.com/cuber-it/heinzel-gateway/pkg/providerutils/streaming"
	"github.com/cuber-it/heinzel-gateway/pkg/translator"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultAPIVersion = "2023-06-01"
)

// Translator implements translator.Translator for the Claude wire protocol.
type Translator struct {
	translator.Unimplemented
	client     *internalhttp.Client
	apiVersion string
}

// Config configures one Claude-style instance.
type Config struct {
	APIKey     string
	BaseURL    string
	APIVersion string
}

// New constructs a Claude-style translator.
func New(cfg Config) *Translator {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	client := internalhttp.NewClient(internalhttp.Config{
		BaseURL: baseURL,
		Headers: map[string]string{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": apiVersion,
		},
	})

	return &Translator{
		Unimplemented: translator.Unimplemented{ProviderName: "claude"},
		client:        client,
		apiVersion:    apiVersion,
	}
}

func (t *Translator) Features() map[string]bool {
	return translator.DeclareFeatures("tool_use", "vision", "web_search", "citations", "thinking", "cache_control")
}

func (t *Translator) Tier(endpoint string) canon.CapabilityTier {
	switch endpoint {
	case "/chat", "/chat/stream", "/tokens/count", "/models", "/models/{id}":
		return canon.TierCore
	case "/batches", "/batches/{id}", "/batches/{id}/cancel", "/batches/{id}/results":
		return canon.TierExtended
	default:
		return ""
	}
}

// --- wire types ---

type wireContentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Source    *wireImgSource         `json:"source,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

type wireImgSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type wireRequest struct {
	Model         string        `json:"model"`
	Messages      []wireMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens"`
	System        string        `json:"system,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
	Tools         []wireTool    `json:"tools,omitempty"`
}

type wireTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

type wireResponse struct {
	Content    []wireContentBlock `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      wireUsage          `json:"usage"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func buildMessages(req canon.ChatRequest) []wireMessage {
	out := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		out = append(out, wireMessage{Role: m.Role, Content: toWireContent(m.Content)})
	}
	return out
}

func toWireContent(mc canon.MessageContent) interface{} {
	if !mc.IsBlocks() {
		return mc.String()
	}
	blocks := make([]wireContentBlock, 0, len(mc.Blocks))
	for _, b := range mc.Blocks {
		switch v := b.(type) {
		case canon.TextBlock:
			blocks = append(blocks, wireContentBlock{Type: "text", Text: v.Text})
		case canon.ImageBlock:
			blocks = append(blocks, wireContentBlock{Type: "image", Source: &wireImgSource{
				Type: "base64", MediaType: v.MediaType, Data: v.Data,
			}})
		case canon.DocumentBlock:
			blocks = append(blocks, wireContentBlock{Type: "document", Source: &wireImgSource{
				Type: "base64", MediaType: v.MediaType, Data: v.Data,
			}})
		case canon.ToolUseBlock:
			blocks = append(blocks, wireContentBlock{Type: "tool_use", ID: v.ID, Name: v.Name, Input: v.Input})
		case canon.ToolResultBlock:
			// Claude keeps tool_result blocks inline in the user message,
			// unlike OpenAI which fans them into separate role:tool entries.
			blocks = append(blocks, wireContentBlock{Type: "tool_result", ToolUseID: v.ToolUseID, Content: v.Content, IsError: v.IsError})
		}
	}
	return blocks
}

func buildRequest(req canon.ChatRequest, stream bool) wireRequest {
	wr := wireRequest{
		Model:         req.Model,
		Messages:      buildMessages(req),
		MaxTokens:     req.EffectiveMaxTokens(),
		System:        req.System,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
		Stream:        stream,
	}
	for _, tl := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{Name: tl.Name, Description: tl.Description, InputSchema: tl.Parameters})
	}
	return wr
}

func normalizeStopReason(r string) string {
	switch r {
	case "tool_use":
		return "tool_use"
	case "end_turn":
		return "end_turn"
	case "max_tokens":
		return "max_tokens"
	case "stop_sequence":
		return "stop_sequence"
	default:
		return r
	}
}

func flattenText(blocks []wireContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func toCanonBlocks(blocks []wireContentBlock) []canon.ContentBlock {
	out := make([]canon.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, canon.TextBlock{Text: b.Text})
		case "tool_use":
			out = append(out, canon.ToolUseBlock{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return out
}

func (t *Translator) Chat(ctx context.Context, req canon.ChatRequest) (*canon.ChatResponse, error) {
	wr := buildRequest(req, false)
	var resp wireResponse
	if err := t.client.PostJSON(ctx, "/v1/messages", wr, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return &canon.ChatResponse{
		Content:       flattenText(resp.Content),
		Model:         resp.Model,
		Usage:         canon.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		Provider:      "claude",
		StopReason:    normalizeStopReason(resp.StopReason),
		ContentBlocks: toCanonBlocks(resp.Content),
	}, nil
}

func (t *Translator) CountTokens(ctx context.Context, req canon.TokenCountRequest) (*canon.TokenCountResponse, error) {
	wr := struct {
		Model    string        `json:"model"`
		Messages []wireMessage `json:"messages"`
		System   string        `json:"system,omitempty"`
	}{
		Model:    req.Model,
		Messages: buildMessages(canon.ChatRequest{Messages: req.Messages}),
		System:   req.System,
	}
	var resp struct {
		InputTokens int `json:"input_tokens"`
	}
	if err := t.client.PostJSON(ctx, "/v1/messages/count_tokens", wr, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return &canon.TokenCountResponse{InputTokens: resp.InputTokens, Model: req.Model, Provider: "claude"}, nil
}

func (t *Translator) GetModel(ctx context.Context, id string) (*canon.ModelDetailResponse, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := t.client.GetJSON(ctx, "/v1/models/"+id, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return &canon.ModelDetailResponse{
		Model:    canon.ModelDetail{ID: resp.ID, Provider: "claude"},
		Provider: "claude",
	}, nil
}

func (t *Translator) ListModels(ctx context.Context) (*canon.ModelsResponse, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := t.client.GetJSON(ctx, "/v1/models", &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	out := &canon.ModelsResponse{Provider: "claude"}
	for _, m := range resp.Data {
		out.Models = append(out.Models, canon.ModelDetail{ID: m.ID, Provider: "claude"})
	}
	return out, nil
}

// --- batches ---

type wireBatchRequestItem struct {
	CustomID string      `json:"custom_id"`
	Params   wireRequest `json:"params"`
}

type wireBatchStatus struct {
	ID                string  `json:"id"`
	ProcessingStatus  string  `json:"processing_status"`
	RequestCounts     struct {
		Succeeded int `json:"succeeded"`
		Errored   int `json:"errored"`
		Total     int `json:"total"`
	} `json:"request_counts"`
	CreatedAt string  `json:"created_at"`
	EndedAt   *string `json:"ended_at"`
	ResultsURL *string `json:"results_url"`
}

func (b wireBatchStatus) toCanon() *canon.BatchStatus {
	total := b.RequestCounts.Total
	if total == 0 {
		total = b.RequestCounts.Succeeded + b.RequestCounts.Errored
	}
	return &canon.BatchStatus{
		ID:                 b.ID,
		Status:             b.ProcessingStatus,
		TotalRequests:      total,
		CompletedRequests:  b.RequestCounts.Succeeded,
		FailedRequests:     b.RequestCounts.Errored,
		CreatedAt:          b.CreatedAt,
		EndedAt:            b.EndedAt,
		Provider:           "claude",
	}
}

func (t *Translator) CreateBatch(ctx context.Context, req canon.BatchCreateRequest) (*canon.BatchStatus, error) {
	items := make([]wireBatchRequestItem, 0, len(req.Requests))
	for _, r := range req.Requests {
		items = append(items, wireBatchRequestItem{CustomID: r.CustomID, Params: buildRequest(r.Params, false)})
	}
	var resp wireBatchStatus
	if err := t.client.PostJSON(ctx, "/v1/messages/batches", map[string]interface{}{"requests": items}, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return resp.toCanon(), nil
}

func (t *Translator) ListBatches(ctx context.Context) (*canon.BatchListResponse, error) {
	var resp struct {
		Data []wireBatchStatus `json:"data"`
	}
	if err := t.client.GetJSON(ctx, "/v1/messages/batches", &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	out := &canon.BatchListResponse{Provider: "claude"}
	for _, b := range resp.Data {
		out.Batches = append(out.Batches, *b.toCanon())
	}
	return out, nil
}

func (t *Translator) GetBatch(ctx context.Context, id string) (*canon.BatchStatus, error) {
	var resp wireBatchStatus
	if err := t.client.GetJSON(ctx, "/v1/messages/batches/"+id, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return resp.toCanon(), nil
}

func (t *Translator) CancelBatch(ctx context.Context, id string) (*canon.BatchStatus, error) {
	var resp wireBatchStatus
	if err := t.client.PostJSON(ctx, "/v1/messages/batches/"+id+"/cancel", struct{}{}, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return resp.toCanon(), nil
}

// BatchResults fetches /v1/messages/batches/{id}/results once the batch has
// ended and decodes it as newline-delimited JSON, matching Claude's async-batch results format.
func (t *Translator) BatchResults(ctx context.Context, id string) (*canon.BatchResultsResponse, error) {
	status, err := t.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if status.Status != "ended" {
		return nil, apperr.NewTranslationError(fmt.Sprintf("batch %s has not ended (status=%s)", id, status.Status), nil)
	}

	httpResp, err := t.client.DoStream(ctx, internalhttp.Request{Method: http.MethodGet, Path: "/v1/messages/batches/" + id + "/results"})
	if err != nil {
		return nil, wrapUpstreamErr(err)
	}
	defer httpResp.Body.Close()

	out := &canon.BatchResultsResponse{BatchID: id, Provider: "claude"}
	dec := json.NewDecoder(httpResp.Body)
	for dec.More() {
		var line struct {
			CustomID string `json:"custom_id"`
			Result   struct {
				Type    string `json:"type"`
				Message *wireResponse `json:"message"`
				Error   *struct {
					Message string `json:"message"`
				} `json:"error"`
			} `json:"result"`
		}
		if err := dec.Decode(&line); err != nil {
			break
		}
		item := canon.BatchResultItem{CustomID: line.CustomID}
		if line.Result.Message != nil {
			item.Result = &canon.ChatResponse{
				Content:       flattenText(line.Result.Message.Content),
				Model:         line.Result.Message.Model,
				Usage:         canon.Usage{InputTokens: line.Result.Message.Usage.InputTokens, OutputTokens: line.Result.Message.Usage.OutputTokens},
				Provider:      "claude",
				StopReason:    normalizeStopReason(line.Result.Message.StopReason),
				ContentBlocks: toCanonBlocks(line.Result.Message.Content),
			}
		} else if line.Result.Error != nil {
			item.Error = line.Result.Error.Message
		}
		out.Results = append(out.Results, item)
	}
	return out, nil
}

func wrapUpstreamErr(err error) error {
	if se, ok := err.(*internalhttp.StatusError); ok {
		return &apperr.UpstreamError{Status: se.Status, Message: se.Message()}
	}
	return err
}

// --- streaming ---

type streamSession struct {
	resp   *http.Response
	parser *streaming.SSEParser
	model  string
	usage  canon.Usage
}

func (t *Translator) ChatStream(ctx context.Context, req canon.ChatRequest) (translator.StreamSession, error) {
	wr := buildRequest(req, true)
	httpResp, err := t.client.DoStream(ctx, internalhttp.Request{
		Method: http.MethodPost,
		Path:   "/v1/messages",
		Body:   wr,
	})
	if err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return &streamSession{
		resp:   httpResp,
		parser: streaming.NewSSEParser(httpResp.Body),
		model:  req.Model,
	}, nil
}

func (s *streamSession) Close() error {
	return s.resp.Body.Close()
}

func (s *streamSession) Next(ctx context.Context) (*canon.StreamChunk, error) {
	for {
		ev, err := s.parser.Next()
		if err != nil {
			return nil, err
		}
		if ev.Data == "" {
			continue
		}

		var payload struct {
			Type  string `json:"type"`
			Delta struct {
				Type       string `json:"type"`
				Text       string `json:"text"`
				StopReason string `json:"stop_reason"`
			} `json:"delta"`
			Message struct {
				Model string    `json:"model"`
				Usage wireUsage `json:"usage"`
			} `json:"message"`
			Usage wireUsage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			continue
		}

		switch payload.Type {
		case "message_start":
			s.model = payload.Message.Model
			s.usage.InputTokens = payload.Message.Usage.InputTokens
			return &canon.StreamChunk{Type: canon.ChunkUsage, Model: s.model, Usage: &canon.Usage{
				InputTokens: s.usage.InputTokens,
			}}, nil
		case "content_block_delta":
			if payload.Delta.Type == "text_delta" {
				return &canon.StreamChunk{Type: canon.ChunkContentDelta, Content: payload.Delta.Text, Model: s.model}, nil
			}
			continue
		case "message_delta":
			s.usage.OutputTokens = payload.Usage.OutputTokens
			return &canon.StreamChunk{Type: canon.ChunkUsage, Model: s.model, Usage: &canon.Usage{
				InputTokens: s.usage.InputTokens, OutputTokens: s.usage.OutputTokens,
			}}, nil
		case "message_stop":
			return &canon.StreamChunk{Type: canon.ChunkDone, Model: s.model}, nil
		default:
			continue
		}
	}
}
