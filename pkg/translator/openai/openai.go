// Package openai implements the OpenAI-style wire translator: the
// /v1/chat/completions request/response shape, Bearer-token auth, tool
// calls fanned into tool_calls/role:tool entries, and local BPE token
// counting.
//
// Grounded on the claude translator's Translator/Config shape, generalized
// to this wire protocol's very different message re-shaping rules per
// SPEC_FULL.md §4.4.2.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/cuber-it/heinzel-gateway/pkg/apperr"
	"github.com/cuber-it/heinzel-gateway/pkg/canon"
	"github.com/cuber-it/heinzel-gateway/pkg/ingest"
	internalhttp "github.com/cuber-it/heinzel-gateway/pkg/internal/http"
	"github.com/cuber-it/heinzel-gateway/pkg/providerutils/streaming"
	"github.com/cuber-it/heinzel-gateway/pkg/translator"
	"github.com/pkoukk/tiktoken-go"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Translator implements translator.Translator for the OpenAI wire protocol.
type Translator struct {
	translator.Unimplemented
	client     *internalhttp.Client
	extractors ingest.Extractors
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config configures one OpenAI-style instance.
type Config struct {
	APIKey  string
	BaseURL string
	// Extractors adapts documents the upstream has no native support for
	// (PDF) to text before translation, per SPEC_FULL.md §4.1.
	Extractors ingest.Extractors
}

// New constructs an OpenAI-style translator.
func New(cfg Config) *Translator {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := internalhttp.NewClient(internalhttp.Config{
		BaseURL: baseURL,
		Headers: map[string]string{"Authorization": "Bearer " + cfg.APIKey},
	})
	ex := cfg.Extractors
	if ex.PDF == nil && ex.DOCX == nil && ex.XLSX == nil {
		ex = ingest.DefaultExtractors()
	}
	return &Translator{
		Unimplemented: translator.Unimplemented{ProviderName: "openai"},
		client:        client,
		extractors:    ex,
		apiKey:        cfg.APIKey,
		baseURL:       baseURL,
		httpClient:    internalhttp.DefaultHTTPClient,
	}
}

func (t *Translator) Features() map[string]bool {
	return translator.DeclareFeatures("tool_use", "vision", "web_search", "embeddings", "audio", "images", "moderation")
}

func (t *Translator) Tier(endpoint string) canon.CapabilityTier {
	switch endpoint {
	case "/chat", "/chat/stream", "/tokens/count", "/models", "/models/{id}":
		return canon.TierCore
	case "/embeddings", "/batches", "/batches/{id}", "/batches/{id}/cancel", "/batches/{id}/results":
		return canon.TierExtended
	case "/moderations", "/audio/transcriptions", "/audio/translations", "/audio/speech",
		"/images/generations", "/images/edits", "/images/variations":
		return canon.TierSpecialized
	default:
		return ""
	}
}

// --- wire types ---

type wireImageURL struct {
	URL string `json:"url"`
}

type wireContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // always "function"
	Function wireFunctionCall `json:"function"`
}

type wireMessage struct {
	Role       string        `json:"role"`
	Content    interface{}   `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"` // always "function"
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type wireRequest struct {
	Model               string        `json:"model"`
	Messages            []wireMessage `json:"messages"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Temperature         *float64      `json:"temperature,omitempty"`
	TopP                *float64      `json:"top_p,omitempty"`
	Stop                []string      `json:"stop,omitempty"`
	Stream              bool          `json:"stream,omitempty"`
	StreamOptions       *streamOpts   `json:"stream_options,omitempty"`
	Tools               []wireTool    `json:"tools,omitempty"`
}

type streamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type wireChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Model   string       `json:"model"`
	Usage   wireUsage    `json:"usage"`
}

// usesMaxCompletionTokens reports whether this model id needs the newer
// max_completion_tokens key rather than max_tokens, per SPEC_FULL.md §4.4.2
// and the exact substrings pinned by spec.md §8.
func usesMaxCompletionTokens(model string) bool {
	for _, sub := range []string{"gpt-5", "o3", "o4"} {
		if strings.Contains(model, sub) {
			return true
		}
	}
	return false
}

// toWireContent renders one message's content. Image blocks become
// image_url parts; DocumentBlocks are pre-adapted to text by the caller
// (via the PDF extractor) before this is reached, since OpenAI has no
// native PDF support.
func toWireContent(mc canon.MessageContent) interface{} {
	if !mc.IsBlocks() {
		return mc.Text
	}
	var parts []wireContentPart
	for _, b := range mc.Blocks {
		switch v := b.(type) {
		case canon.TextBlock:
			parts = append(parts, wireContentPart{Type: "text", Text: v.Text})
		case canon.ImageBlock:
			parts = append(parts, wireContentPart{
				Type:     "image_url",
				ImageURL: &wireImageURL{URL: fmt.Sprintf("data:%s;base64,%s", v.MediaType, v.Data)},
			})
		case canon.DocumentBlock:
			// Should have been pre-adapted; fall back to a labeled text part
			// rather than silently dropping the content.
			parts = append(parts, wireContentPart{Type: "text", Text: "[document] PDF-Extraktion nicht verfügbar."})
		}
	}
	if len(parts) == 1 && parts[0].Type == "text" {
		return parts[0].Text
	}
	return parts
}

// adaptDocuments replaces DocumentBlocks in req with the PDF extractor's
// TextBlock output, since this provider has no native PDF support.
func (t *Translator) adaptDocuments(req canon.ChatRequest) canon.ChatRequest {
	changed := false
	out := make([]canon.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		if !m.Content.IsBlocks() {
			out[i] = m
			continue
		}
		needsAdapt := false
		for _, b := range m.Content.Blocks {
			if _, ok := b.(canon.DocumentBlock); ok {
				needsAdapt = true
				break
			}
		}
		if !needsAdapt {
			out[i] = m
			continue
		}
		changed = true
		blocks := make([]canon.ContentBlock, 0, len(m.Content.Blocks))
		for _, b := range m.Content.Blocks {
			if doc, ok := b.(canon.DocumentBlock); ok {
				blocks = append(blocks, t.extractDocument(doc))
				continue
			}
			blocks = append(blocks, b)
		}
		out[i] = canon.ChatMessage{Role: m.Role, Content: canon.MessageContent{Blocks: blocks}}
	}
	if !changed {
		return req
	}
	req.Messages = out
	return req
}

func (t *Translator) extractDocument(doc canon.DocumentBlock) canon.ContentBlock {
	if t.extractors.PDF == nil {
		return canon.TextBlock{Text: "[document] PDF-Extraktion nicht verfügbar."}
	}
	data, err := base64.StdEncoding.DecodeString(doc.Data)
	if err != nil {
		return canon.TextBlock{Text: fmt.Sprintf("[document] PDF-Extraktion fehlgeschlagen: %v", err)}
	}
	return t.extractors.PDF(data, "document.pdf")
}

// buildMessages re-shapes canonical messages into the OpenAI wire form: a
// top-level system string becomes a role:system message, assistant
// tool_use blocks become tool_calls, and user tool_result blocks are fanned
// out to one role:tool message per result.
func buildMessages(req canon.ChatRequest) []wireMessage {
	var out []wireMessage
	if req.System != "" {
		out = append(out, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		if m.Role == "assistant" && m.Content.IsBlocks() {
			out = append(out, buildAssistantMessage(m.Content.Blocks))
			continue
		}
		if m.Role == "user" && m.Content.IsBlocks() && hasToolResult(m.Content.Blocks) {
			out = append(out, buildToolMessages(m.Content.Blocks)...)
			continue
		}
		out = append(out, wireMessage{Role: m.Role, Content: toWireContent(m.Content)})
	}
	return out
}

func hasToolResult(blocks []canon.ContentBlock) bool {
	for _, b := range blocks {
		if _, ok := b.(canon.ToolResultBlock); ok {
			return true
		}
	}
	return false
}

func buildAssistantMessage(blocks []canon.ContentBlock) wireMessage {
	var text strings.Builder
	var calls []wireToolCall
	for _, b := range blocks {
		switch v := b.(type) {
		case canon.TextBlock:
			text.WriteString(v.Text)
		case canon.ToolUseBlock:
			args, _ := json.Marshal(v.Input)
			calls = append(calls, wireToolCall{
				ID:   v.ID,
				Type: "function",
				Function: wireFunctionCall{
					Name:      v.Name,
					Arguments: string(args),
				},
			})
		}
	}
	msg := wireMessage{Role: "assistant", ToolCalls: calls}
	if text.Len() > 0 {
		msg.Content = text.String()
	}
	return msg
}

func buildToolMessages(blocks []canon.ContentBlock) []wireMessage {
	var out []wireMessage
	var leftoverText strings.Builder
	for _, b := range blocks {
		switch v := b.(type) {
		case canon.ToolResultBlock:
			out = append(out, wireMessage{Role: "tool", ToolCallID: v.ToolUseID, Content: v.Content})
		case canon.TextBlock:
			leftoverText.WriteString(v.Text)
		}
	}
	if leftoverText.Len() > 0 {
		out = append(out, wireMessage{Role: "user", Content: leftoverText.String()})
	}
	return out
}

func buildRequest(req canon.ChatRequest, stream bool) wireRequest {
	wr := wireRequest{
		Model:       req.Model,
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      stream,
	}
	if stream {
		wr.StreamOptions = &streamOpts{IncludeUsage: true}
	}
	if usesMaxCompletionTokens(req.Model) {
		wr.MaxCompletionTokens = req.EffectiveMaxTokens()
	} else {
		wr.MaxTokens = req.EffectiveMaxTokens()
	}
	for _, tl := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{Type: "function", Function: wireFunction{
			Name: tl.Name, Description: tl.Description, Parameters: tl.Parameters,
		}})
	}
	return wr
}

// normalizeStopReason maps OpenAI's finish_reason vocabulary onto the
// canonical stop_reason values; tool_calls becomes tool_use per spec.md §8.
func normalizeStopReason(r string) string {
	switch r {
	case "tool_calls":
		return "tool_use"
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return r
	}
}

func responseBlocks(msg wireMessage) []canon.ContentBlock {
	var out []canon.ContentBlock
	if s, ok := msg.Content.(string); ok && s != "" {
		out = append(out, canon.TextBlock{Text: s})
	}
	for _, tc := range msg.ToolCalls {
		var input map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		out = append(out, canon.ToolUseBlock{ID: tc.ID, Name: tc.Function.Name, Input: input})
	}
	return out
}

func flattenContent(msg wireMessage) string {
	if s, ok := msg.Content.(string); ok {
		return s
	}
	return ""
}

func (t *Translator) Chat(ctx context.Context, req canon.ChatRequest) (*canon.ChatResponse, error) {
	req = t.adaptDocuments(req)
	wr := buildRequest(req, false)
	var resp wireResponse
	if err := t.client.PostJSON(ctx, "/chat/completions", wr, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.NewTranslationError("upstream returned no choices", nil)
	}
	choice := resp.Choices[0]
	return &canon.ChatResponse{
		Content:       flattenContent(choice.Message),
		Model:         resp.Model,
		Usage:         canon.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
		Provider:      "openai",
		StopReason:    normalizeStopReason(choice.FinishReason),
		ContentBlocks: responseBlocks(choice.Message),
	}, nil
}

func (t *Translator) ListModels(ctx context.Context) (*canon.ModelsResponse, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := t.client.GetJSON(ctx, "/models", &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	out := &canon.ModelsResponse{Provider: "openai"}
	for _, m := range resp.Data {
		out.Models = append(out.Models, canon.ModelDetail{ID: m.ID, Provider: "openai"})
	}
	return out, nil
}

func (t *Translator) GetModel(ctx context.Context, id string) (*canon.ModelDetailResponse, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := t.client.GetJSON(ctx, "/models/"+id, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return &canon.ModelDetailResponse{Model: canon.ModelDetail{ID: resp.ID, Provider: "openai"}, Provider: "openai"}, nil
}

func (t *Translator) CreateEmbeddings(ctx context.Context, req canon.EmbeddingRequest) (*canon.EmbeddingResponse, error) {
	wr := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: req.Model, Input: req.Input}
	var resp struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Model string    `json:"model"`
		Usage wireUsage `json:"usage"`
	}
	if err := t.client.PostJSON(ctx, "/embeddings", wr, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	out := &canon.EmbeddingResponse{
		Model: resp.Model, Provider: "openai",
		Usage: canon.Usage{InputTokens: resp.Usage.PromptTokens},
	}
	for _, d := range resp.Data {
		out.Data = append(out.Data, canon.EmbeddingData{Index: d.Index, Embedding: d.Embedding, Object: "embedding"})
	}
	return out, nil
}

func wrapUpstreamErr(err error) error {
	if se, ok := err.(*internalhttp.StatusError); ok {
		return &apperr.UpstreamError{Status: se.Status, Message: se.Message()}
	}
	return err
}

// --- local token counting ---

// tiktokenEncoding picks the BPE table for a model family; cl100k_base
// covers everything gpt-3.5/gpt-4 era and is the safe fallback for models
// tiktoken-go doesn't recognise by name.
func tiktokenEncoding(model string) (*tiktoken.Tiktoken, error) {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding("cl100k_base")
}

func (t *Translator) CountTokens(ctx context.Context, req canon.TokenCountRequest) (*canon.TokenCountResponse, error) {
	enc, err := tiktokenEncoding(req.Model)
	if err != nil {
		return nil, apperr.NewTranslationError("could not load token encoding", err)
	}
	var text strings.Builder
	if req.System != "" {
		text.WriteString(req.System)
		text.WriteString("\n")
	}
	for _, m := range req.Messages {
		text.WriteString(m.Content.String())
		text.WriteString("\n")
	}
	tokens := enc.Encode(text.String(), nil, nil)
	return &canon.TokenCountResponse{InputTokens: len(tokens), Model: req.Model, Provider: "openai"}, nil
}

// --- moderation ---

func (t *Translator) Moderate(ctx context.Context, req canon.ModerationRequest) (*canon.ModerationResponse, error) {
	wr := struct {
		Input []string `json:"input"`
		Model string   `json:"model,omitempty"`
	}{Input: req.Input, Model: req.Model}
	var resp struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Results []struct {
			Flagged        bool               `json:"flagged"`
			Categories     map[string]bool    `json:"categories"`
			CategoryScores map[string]float64 `json:"category_scores"`
		} `json:"results"`
	}
	if err := t.client.PostJSON(ctx, "/moderations", wr, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	out := &canon.ModerationResponse{ID: resp.ID, Model: resp.Model, Provider: "openai"}
	for _, r := range resp.Results {
		out.Results = append(out.Results, canon.ModerationResult{
			Flagged: r.Flagged, Categories: r.Categories, CategoryScores: r.CategoryScores,
		})
	}
	return out, nil
}

// --- audio ---

func (t *Translator) TranscribeAudio(ctx context.Context, req canon.AudioTranscriptionRequest) (*canon.AudioResponse, error) {
	model := req.Model
	if model == "" {
		model = "whisper-1"
	}
	fields := map[string]string{"model": model}
	if req.Language != "" {
		fields["language"] = req.Language
	}
	var resp struct {
		Text string `json:"text"`
	}
	if err := t.multipartJSON(ctx, "/audio/transcriptions", req.Filename, req.Data, fields, &resp); err != nil {
		return nil, err
	}
	return &canon.AudioResponse{Text: resp.Text, Model: model, Provider: "openai"}, nil
}

func (t *Translator) TranslateAudio(ctx context.Context, req canon.AudioTranslationRequest) (*canon.AudioResponse, error) {
	model := req.Model
	if model == "" {
		model = "whisper-1"
	}
	var resp struct {
		Text string `json:"text"`
	}
	if err := t.multipartJSON(ctx, "/audio/translations", req.Filename, req.Data, map[string]string{"model": model}, &resp); err != nil {
		return nil, err
	}
	return &canon.AudioResponse{Text: resp.Text, Model: model, Provider: "openai"}, nil
}

func (t *Translator) SpeakText(ctx context.Context, req canon.AudioSpeechRequest) ([]byte, string, error) {
	voice := req.Voice
	if voice == "" {
		voice = "alloy"
	}
	format := req.ResponseFormat
	if format == "" {
		format = "mp3"
	}
	wr := struct {
		Model          string  `json:"model"`
		Input          string  `json:"input"`
		Voice          string  `json:"voice"`
		ResponseFormat string  `json:"response_format"`
		Speed          float64 `json:"speed,omitempty"`
	}{Model: req.Model, Input: req.Input, Voice: voice, ResponseFormat: format, Speed: req.Speed}
	body, _ := json.Marshal(wr)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode >= 400 {
		return nil, "", &apperr.UpstreamError{Status: resp.StatusCode, Message: string(data)}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return data, contentType, nil
}

// --- images ---

func (t *Translator) GenerateImages(ctx context.Context, req canon.ImageGenerationRequest) (*canon.ImageResponse, error) {
	n := req.N
	if n == 0 {
		n = 1
	}
	wr := struct {
		Model          string `json:"model,omitempty"`
		Prompt         string `json:"prompt"`
		N              int    `json:"n"`
		Size           string `json:"size,omitempty"`
		Quality        string `json:"quality,omitempty"`
		Style          string `json:"style,omitempty"`
		ResponseFormat string `json:"response_format,omitempty"`
	}{Model: req.Model, Prompt: req.Prompt, N: n, Size: req.Size, Quality: req.Quality, Style: req.Style, ResponseFormat: req.ResponseFormat}
	var resp struct {
		Data []canon.ImageData `json:"data"`
	}
	if err := t.client.PostJSON(ctx, "/images/generations", wr, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return &canon.ImageResponse{Data: resp.Data, Model: req.Model, Provider: "openai"}, nil
}

func (t *Translator) EditImage(ctx context.Context, req canon.ImageEditRequest) (*canon.ImageResponse, error) {
	fields := map[string]string{"prompt": req.Prompt}
	if req.Model != "" {
		fields["model"] = req.Model
	}
	if req.N > 0 {
		fields["n"] = fmt.Sprintf("%d", req.N)
	}
	if req.Size != "" {
		fields["size"] = req.Size
	}
	var resp struct {
		Data []canon.ImageData `json:"data"`
	}
	err := t.multipartImage(ctx, "/images/edits", "image.png", req.Image, "mask.png", req.Mask, fields, &resp)
	if err != nil {
		return nil, err
	}
	return &canon.ImageResponse{Data: resp.Data, Model: req.Model, Provider: "openai"}, nil
}

func (t *Translator) VaryImage(ctx context.Context, req canon.ImageVariationRequest) (*canon.ImageResponse, error) {
	fields := map[string]string{}
	if req.Model != "" {
		fields["model"] = req.Model
	}
	if req.N > 0 {
		fields["n"] = fmt.Sprintf("%d", req.N)
	}
	if req.Size != "" {
		fields["size"] = req.Size
	}
	var resp struct {
		Data []canon.ImageData `json:"data"`
	}
	err := t.multipartImage(ctx, "/images/variations", "image.png", req.Image, "", nil, fields, &resp)
	if err != nil {
		return nil, err
	}
	return &canon.ImageResponse{Data: resp.Data, Model: req.Model, Provider: "openai"}, nil
}

// --- batches ---
//
// OpenAI's real batch API operates on an uploaded JSONL file rather than an
// inline request list; each canonical request is packed into one JSONL line
// against /chat/completions, uploaded via /files, then submitted as a batch
// job referencing that file id.

func (t *Translator) CreateBatch(ctx context.Context, req canon.BatchCreateRequest) (*canon.BatchStatus, error) {
	var buf bytes.Buffer
	for _, item := range req.Requests {
		line := struct {
			CustomID string      `json:"custom_id"`
			Method   string      `json:"method"`
			URL      string      `json:"url"`
			Body     wireRequest `json:"body"`
		}{CustomID: item.CustomID, Method: "POST", URL: "/v1/chat/completions", Body: buildRequest(item.Params, false)}
		data, err := json.Marshal(line)
		if err != nil {
			return nil, apperr.NewTranslationError("could not encode batch line", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	var fileResp struct {
		ID string `json:"id"`
	}
	if err := t.multipartUpload(ctx, "/files", "batch.jsonl", buf.Bytes(), map[string]string{"purpose": "batch"}, &fileResp); err != nil {
		return nil, err
	}
	wr := struct {
		InputFileID      string `json:"input_file_id"`
		Endpoint         string `json:"endpoint"`
		CompletionWindow string `json:"completion_window"`
	}{InputFileID: fileResp.ID, Endpoint: "/v1/chat/completions", CompletionWindow: "24h"}
	var resp wireBatch
	if err := t.client.PostJSON(ctx, "/batches", wr, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return resp.toCanon(), nil
}

type wireBatch struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	OutputFileID   string  `json:"output_file_id"`
	CreatedAt      int64   `json:"created_at"`
	CompletedAt    *int64  `json:"completed_at"`
	RequestCounts  struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
}

func (w wireBatch) toCanon() *canon.BatchStatus {
	status := w.Status
	switch status {
	case "completed":
		status = "ended"
	}
	bs := &canon.BatchStatus{
		ID: w.ID, Status: status, Provider: "openai",
		TotalRequests: w.RequestCounts.Total, CompletedRequests: w.RequestCounts.Completed, FailedRequests: w.RequestCounts.Failed,
	}
	if w.CompletedAt != nil {
		s := fmt.Sprintf("%d", *w.CompletedAt)
		bs.EndedAt = &s
	}
	bs.CreatedAt = fmt.Sprintf("%d", w.CreatedAt)
	return bs
}

func (t *Translator) ListBatches(ctx context.Context) (*canon.BatchListResponse, error) {
	var resp struct {
		Data []wireBatch `json:"data"`
	}
	if err := t.client.GetJSON(ctx, "/batches", &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	out := &canon.BatchListResponse{Provider: "openai"}
	for _, b := range resp.Data {
		out.Batches = append(out.Batches, *b.toCanon())
	}
	return out, nil
}

func (t *Translator) GetBatch(ctx context.Context, id string) (*canon.BatchStatus, error) {
	var resp wireBatch
	if err := t.client.GetJSON(ctx, "/batches/"+id, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return resp.toCanon(), nil
}

func (t *Translator) CancelBatch(ctx context.Context, id string) (*canon.BatchStatus, error) {
	var resp wireBatch
	if err := t.client.PostJSON(ctx, "/batches/"+id+"/cancel", nil, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return resp.toCanon(), nil
}

func (t *Translator) BatchResults(ctx context.Context, id string) (*canon.BatchResultsResponse, error) {
	status, err := t.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if status.Status != "ended" {
		return nil, apperr.NewTranslationError(fmt.Sprintf("batch %s is not finished (status=%s)", id, status.Status), nil)
	}
	var fileResp wireBatch
	if err := t.client.GetJSON(ctx, "/batches/"+id, &fileResp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	httpResp, err := t.client.DoStream(ctx, internalhttp.Request{Method: http.MethodGet, Path: "/files/" + fileResp.OutputFileID + "/content"})
	if err != nil {
		return nil, wrapUpstreamErr(err)
	}
	defer httpResp.Body.Close()

	out := &canon.BatchResultsResponse{BatchID: id, Provider: "openai"}
	dec := json.NewDecoder(httpResp.Body)
	for dec.More() {
		var line struct {
			CustomID string `json:"custom_id"`
			Response *struct {
				Body wireResponse `json:"body"`
			} `json:"response"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := dec.Decode(&line); err != nil {
			break
		}
		item := canon.BatchResultItem{CustomID: line.CustomID}
		switch {
		case line.Error != nil:
			item.Error = line.Error.Message
		case line.Response != nil && len(line.Response.Body.Choices) > 0:
			choice := line.Response.Body.Choices[0]
			item.Result = &canon.ChatResponse{
				Content: flattenContent(choice.Message), Model: line.Response.Body.Model, Provider: "openai",
				StopReason: normalizeStopReason(choice.FinishReason), ContentBlocks: responseBlocks(choice.Message),
				Usage: canon.Usage{InputTokens: line.Response.Body.Usage.PromptTokens, OutputTokens: line.Response.Body.Usage.CompletionTokens},
			}
		}
		out.Results = append(out.Results, item)
	}
	return out, nil
}

// --- multipart helpers ---

func (t *Translator) multipartJSON(ctx context.Context, path, filename string, data []byte, fields map[string]string, out interface{}) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	if err := w.Close(); err != nil {
		return err
	}
	return t.doMultipart(ctx, path, w.FormDataContentType(), &buf, out)
}

func (t *Translator) multipartUpload(ctx context.Context, path, filename string, data []byte, fields map[string]string, out interface{}) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	if err := w.Close(); err != nil {
		return err
	}
	return t.doMultipart(ctx, path, w.FormDataContentType(), &buf, out)
}

func (t *Translator) multipartImage(ctx context.Context, path, imgName string, img []byte, maskName string, mask []byte, fields map[string]string, out interface{}) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("image", imgName)
	if err != nil {
		return err
	}
	if _, err := fw.Write(img); err != nil {
		return err
	}
	if len(mask) > 0 {
		mw, err := w.CreateFormFile("mask", maskName)
		if err != nil {
			return err
		}
		if _, err := mw.Write(mask); err != nil {
			return err
		}
	}
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	if err := w.Close(); err != nil {
		return err
	}
	return t.doMultipart(ctx, path, w.FormDataContentType(), &buf, out)
}

func (t *Translator) doMultipart(ctx context.Context, path, contentType string, body io.Reader, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	httpReq.Header.Set("Content-Type", contentType)
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &apperr.UpstreamError{Status: resp.StatusCode, Message: string(respBody)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// --- streaming ---

type streamSession struct {
	resp   *http.Response
	parser *streaming.SSEParser
	model  string
}

func (t *Translator) ChatStream(ctx context.Context, req canon.ChatRequest) (translator.StreamSession, error) {
	req = t.adaptDocuments(req)
	wr := buildRequest(req, true)
	httpResp, err := t.client.DoStream(ctx, internalhttp.Request{
		Method: http.MethodPost,
		Path:   "/chat/completions",
		Body:   wr,
	})
	if err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return &streamSession{resp: httpResp, parser: streaming.NewSSEParser(httpResp.Body), model: req.Model}, nil
}

func (s *streamSession) Close() error { return s.resp.Body.Close() }

func (s *streamSession) Next(ctx context.Context) (*canon.StreamChunk, error) {
	for {
		ev, err := s.parser.Next()
		if err != nil {
			return nil, err
		}
		if ev.Data == "" {
			continue
		}
		if ev.Data == "[DONE]" {
			return &canon.StreamChunk{Type: canon.ChunkDone, Model: s.model}, nil
		}

		var payload struct {
			Model   string `json:"model"`
			Choices []struct {
				Delta struct {
					Content   string         `json:"content"`
					ToolCalls []wireToolCall `json:"tool_calls"`
				} `json:"delta"`
				FinishReason *string `json:"finish_reason"`
			} `json:"choices"`
			Usage *wireUsage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			continue
		}
		if payload.Model != "" {
			s.model = payload.Model
		}

		if payload.Usage != nil {
			return &canon.StreamChunk{Type: canon.ChunkUsage, Model: s.model, Usage: &canon.Usage{
				InputTokens: payload.Usage.PromptTokens, OutputTokens: payload.Usage.CompletionTokens,
			}}, nil
		}

		if len(payload.Choices) > 0 {
			choice := payload.Choices[0]
			if choice.Delta.Content != "" {
				return &canon.StreamChunk{Type: canon.ChunkContentDelta, Content: choice.Delta.Content, Model: s.model}, nil
			}
			// finish_reason arrives before the include_usage chunk; the
			// terminal done is deferred to the wire [DONE] so the trailing
			// usage is not lost.
		}
		continue
	}
}
