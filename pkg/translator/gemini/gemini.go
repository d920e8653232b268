// Package gemini implements the Gemini-style wire translator: API-key
// query-param auth, generateContent/streamGenerateContent bodies, role
// reduction to user/model, and functionCall-based tool use.
//
// Grounded on the claude translator's Translator/Config shape, generalized
// to this wire protocol's request/response layout per SPEC_FULL.md §4.4.3.
package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cuber-it/heinzel-gateway/pkg/apperr"
	"github.com/cuber-it/heinzel-gateway/pkg/canon"
	internalhttp "github.com/cuber-it/heinzel-gateway/pkg/internal/http"
	"github.com/cuber-it/heinzel-gateway/pkg/providerutils/streaming"
	"github.com/cuber-it/heinzel-gateway/pkg/translator"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Translator implements translator.Translator for the Gemini wire protocol.
type Translator struct {
	translator.Unimplemented
	client *internalhttp.Client
	apiKey string
}

// Config configures one Gemini-style instance.
type Config struct {
	APIKey  string
	BaseURL string
}

// New constructs a Gemini-style translator.
func New(cfg Config) *Translator {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Translator{
		Unimplemented: translator.Unimplemented{ProviderName: "google"},
		client:        internalhttp.NewClient(internalhttp.Config{BaseURL: baseURL}),
		apiKey:        cfg.APIKey,
	}
}

func (t *Translator) Features() map[string]bool {
	return translator.DeclareFeatures("tool_use", "vision", "thinking", "embeddings")
}

func (t *Translator) Tier(endpoint string) canon.CapabilityTier {
	switch endpoint {
	case "/chat", "/chat/stream", "/tokens/count", "/models", "/models/{id}":
		return canon.TierCore
	case "/embeddings":
		return canon.TierExtended
	default:
		return ""
	}
}

// --- wire types ---

type wireInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

type wireFunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type wirePart struct {
	Text             string                `json:"text,omitempty"`
	InlineData       *wireInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *wireFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResponse `json:"functionResponse,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type wireTool struct {
	FunctionDeclarations []wireFunctionDeclaration `json:"functionDeclarations"`
}

type wireGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type wireRequest struct {
	Contents          []wireContent         `json:"contents"`
	SystemInstruction *wireContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *wireGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []wireTool            `json:"tools,omitempty"`
}

type wireUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type wireCandidate struct {
	Content      wireContent `json:"content"`
	FinishReason string      `json:"finishReason"`
}

type wireResponse struct {
	Candidates    []wireCandidate   `json:"candidates"`
	UsageMetadata wireUsageMetadata `json:"usageMetadata"`
	ModelVersion  string            `json:"modelVersion"`
}

// reduceRole maps canonical roles onto Gemini's user/model vocabulary.
func reduceRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// toWireParts renders one message's content into Gemini parts.
func toWireParts(mc canon.MessageContent) []wirePart {
	if !mc.IsBlocks() {
		if mc.Text == "" {
			return nil
		}
		return []wirePart{{Text: mc.Text}}
	}
	var parts []wirePart
	for _, b := range mc.Blocks {
		switch v := b.(type) {
		case canon.TextBlock:
			parts = append(parts, wirePart{Text: v.Text})
		case canon.ImageBlock:
			parts = append(parts, wirePart{InlineData: &wireInlineData{MimeType: v.MediaType, Data: v.Data}})
		case canon.DocumentBlock:
			parts = append(parts, wirePart{InlineData: &wireInlineData{MimeType: v.MediaType, Data: v.Data}})
		case canon.ToolUseBlock:
			parts = append(parts, wirePart{FunctionCall: &wireFunctionCall{Name: v.Name, Args: v.Input}})
		case canon.ToolResultBlock:
			var resp map[string]interface{}
			if err := json.Unmarshal([]byte(v.Content), &resp); err != nil {
				resp = map[string]interface{}{"content": v.Content}
			}
			parts = append(parts, wirePart{FunctionResponse: &wireFunctionResponse{Name: v.ToolUseID, Response: resp}})
		}
	}
	return parts
}

// buildContents reduces the canonical message list to Gemini's role
// vocabulary and merges consecutive same-role turns into one content entry,
// since the API rejects back-to-back same-role turns.
func buildContents(messages []canon.ChatMessage) []wireContent {
	var out []wireContent
	for _, m := range messages {
		role := reduceRole(m.Role)
		parts := toWireParts(m.Content)
		if len(parts) == 0 {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Role == role {
			out[len(out)-1].Parts = append(out[len(out)-1].Parts, parts...)
			continue
		}
		out = append(out, wireContent{Role: role, Parts: parts})
	}
	return out
}

func buildRequest(req canon.ChatRequest) wireRequest {
	wr := wireRequest{Contents: buildContents(req.Messages)}
	if req.System != "" {
		wr.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.System}}}
	}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens > 0 || len(req.StopSequences) > 0 {
		wr.GenerationConfig = &wireGenerationConfig{
			Temperature: req.Temperature, TopP: req.TopP,
			MaxOutputTokens: req.MaxTokens, StopSequences: req.StopSequences,
		}
	}
	for _, tl := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{FunctionDeclarations: []wireFunctionDeclaration{
			{Name: tl.Name, Description: tl.Description, Parameters: tl.Parameters},
		}})
	}
	return wr
}

// normalizeStopReason maps Gemini's finishReason vocabulary onto canonical
// stop_reason values.
func normalizeStopReason(r string) string {
	switch r {
	case "STOP":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	case "SAFETY", "RECITATION":
		return "content_filtered"
	default:
		return strings.ToLower(r)
	}
}

func responseBlocks(c wireContent) []canon.ContentBlock {
	var out []canon.ContentBlock
	for _, p := range c.Parts {
		switch {
		case p.Text != "":
			out = append(out, canon.TextBlock{Text: p.Text})
		case p.FunctionCall != nil:
			out = append(out, canon.ToolUseBlock{Name: p.FunctionCall.Name, Input: p.FunctionCall.Args})
		}
	}
	return out
}

func flattenText(c wireContent) string {
	var sb strings.Builder
	for _, p := range c.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func modelPath(model string) string {
	return "/models/" + model
}

func (t *Translator) Chat(ctx context.Context, req canon.ChatRequest) (*canon.ChatResponse, error) {
	wr := buildRequest(req)
	var resp wireResponse
	path := modelPath(req.Model) + ":generateContent"
	if err := t.client.DoJSON(ctx, internalhttp.Request{
		Method: http.MethodPost, Path: path, Body: wr, Query: map[string]string{"key": t.apiKey},
	}, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	if len(resp.Candidates) == 0 {
		return nil, apperr.NewTranslationError("upstream returned no candidates", nil)
	}
	cand := resp.Candidates[0]
	model := resp.ModelVersion
	if model == "" {
		model = req.Model
	}
	return &canon.ChatResponse{
		Content:    flattenText(cand.Content),
		Model:      model,
		Provider:   "google",
		StopReason: normalizeStopReason(cand.FinishReason),
		Usage: canon.Usage{
			InputTokens: resp.UsageMetadata.PromptTokenCount, OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
		ContentBlocks: responseBlocks(cand.Content),
	}, nil
}

func (t *Translator) CountTokens(ctx context.Context, req canon.TokenCountRequest) (*canon.TokenCountResponse, error) {
	wr := buildRequest(canon.ChatRequest{Messages: req.Messages, System: req.System, Model: req.Model})
	var resp struct {
		TotalTokens int `json:"totalTokens"`
	}
	path := modelPath(req.Model) + ":countTokens"
	if err := t.client.DoJSON(ctx, internalhttp.Request{
		Method: http.MethodPost, Path: path, Body: wr, Query: map[string]string{"key": t.apiKey},
	}, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return &canon.TokenCountResponse{InputTokens: resp.TotalTokens, Model: req.Model, Provider: "google"}, nil
}

func (t *Translator) ListModels(ctx context.Context) (*canon.ModelsResponse, error) {
	var resp struct {
		Models []struct {
			Name                   string `json:"name"`
			InputTokenLimit        int    `json:"inputTokenLimit"`
		} `json:"models"`
	}
	if err := t.client.DoJSON(ctx, internalhttp.Request{
		Method: http.MethodGet, Path: "/models", Query: map[string]string{"key": t.apiKey},
	}, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	out := &canon.ModelsResponse{Provider: "google"}
	for _, m := range resp.Models {
		out.Models = append(out.Models, canon.ModelDetail{
			ID: strings.TrimPrefix(m.Name, "models/"), Provider: "google", ContextWindow: m.InputTokenLimit,
		})
	}
	return out, nil
}

func (t *Translator) GetModel(ctx context.Context, id string) (*canon.ModelDetailResponse, error) {
	var resp struct {
		Name            string `json:"name"`
		InputTokenLimit int    `json:"inputTokenLimit"`
	}
	if err := t.client.DoJSON(ctx, internalhttp.Request{
		Method: http.MethodGet, Path: modelPath(id), Query: map[string]string{"key": t.apiKey},
	}, &resp); err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return &canon.ModelDetailResponse{
		Model:    canon.ModelDetail{ID: strings.TrimPrefix(resp.Name, "models/"), Provider: "google", ContextWindow: resp.InputTokenLimit},
		Provider: "google",
	}, nil
}

// CreateEmbeddings iterates :embedContent once per input string, since
// Gemini's REST surface embeds one piece of content per call.
func (t *Translator) CreateEmbeddings(ctx context.Context, req canon.EmbeddingRequest) (*canon.EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = "text-embedding-004"
	}
	out := &canon.EmbeddingResponse{Model: model, Provider: "google"}
	for i, text := range req.Input {
		wr := struct {
			Content wireContent `json:"content"`
		}{Content: wireContent{Parts: []wirePart{{Text: text}}}}
		var resp struct {
			Embedding struct {
				Values []float64 `json:"values"`
			} `json:"embedding"`
		}
		path := modelPath(model) + ":embedContent"
		if err := t.client.DoJSON(ctx, internalhttp.Request{
			Method: http.MethodPost, Path: path, Body: wr, Query: map[string]string{"key": t.apiKey},
		}, &resp); err != nil {
			return nil, wrapUpstreamErr(err)
		}
		out.Data = append(out.Data, canon.EmbeddingData{Index: i, Embedding: resp.Embedding.Values, Object: "embedding"})
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
	resp    *http.Response
	parser  *streaming.SSEParser
	model   string
	pending []*canon.StreamChunk
}

func (t *Translator) ChatStream(ctx context.Context, req canon.ChatRequest) (translator.StreamSession, error) {
	wr := buildRequest(req)
	path := modelPath(req.Model) + ":streamGenerateContent"
	httpResp, err := t.client.DoStream(ctx, internalhttp.Request{
		Method: http.MethodPost, Path: path, Body: wr,
		Query: map[string]string{"key": t.apiKey, "alt": "sse"},
	})
	if err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return &streamSession{resp: httpResp, parser: streaming.NewSSEParser(httpResp.Body), model: req.Model}, nil
}

func (s *streamSession) Close() error { return s.resp.Body.Close() }

// Next drains chunks queued from the previous event before parsing another
// one; a single Gemini event can carry text, usage metadata and a
// finishReason at once, which maps to up to three canonical chunks.
func (s *streamSession) Next(ctx context.Context) (*canon.StreamChunk, error) {
	for {
		if len(s.pending) > 0 {
			chunk := s.pending[0]
			s.pending = s.pending[1:]
			return chunk, nil
		}

		ev, err := s.parser.Next()
		if err != nil {
			return nil, err
		}
		if ev.Data == "" {
			continue
		}

		var payload wireResponse
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			continue
		}
		if payload.ModelVersion != "" {
			s.model = payload.ModelVersion
		}
		s.pending = s.translateEvent(payload)
	}
}

func (s *streamSession) translateEvent(payload wireResponse) []*canon.StreamChunk {
	var out []*canon.StreamChunk

	var finishReason string
	if len(payload.Candidates) > 0 {
		cand := payload.Candidates[0]
		finishReason = cand.FinishReason
		if text := flattenText(cand.Content); text != "" {
			out = append(out, &canon.StreamChunk{Type: canon.ChunkContentDelta, Content: text, Model: s.model})
		}
	}

	if payload.UsageMetadata.PromptTokenCount > 0 || payload.UsageMetadata.CandidatesTokenCount > 0 {
		out = append(out, &canon.StreamChunk{Type: canon.ChunkUsage, Model: s.model, Usage: &canon.Usage{
			InputTokens: payload.UsageMetadata.PromptTokenCount, OutputTokens: payload.UsageMetadata.CandidatesTokenCount,
		}})
	}

	if finishReason == "STOP" || finishReason == "MAX_TOKENS" {
		out = append(out, &canon.StreamChunk{Type: canon.ChunkDone, Model: s.model})
	}
	return out
}
