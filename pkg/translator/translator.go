// Package translator defines the provider-agnostic surface the gateway
// drives: one Translator per deployed instance, responsible for turning a
// canonical request into exactly one upstream wire protocol and the
// upstream's response back into the canonical shape.
//
// A Translator embeds Unimplemented so every method not explicitly
// overridden returns an EndpointNotAvailable error, matching the
// capability-tiered opt-in design: core/extended/specialized.
package translator

import (
	"context"

	"github.com/cuber-it/heinzel-gateway/pkg/apperr"
	"github.com/cuber-it/heinzel-gateway/pkg/canon"
)

// Translator is the full canonical surface a provider style may implement.
// Every method that a given provider style does not support should be left
// to Unimplemented's default, which returns apperr.EndpointNotAvailable.
type Translator interface {
	Name() string
	Tier(endpoint string) canon.CapabilityTier
	Features() map[string]bool

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Chat(ctx context.Context, req canon.ChatRequest) (*canon.ChatResponse, error)
	ChatStream(ctx context.Context, req canon.ChatRequest) (StreamSession, error)
	CountTokens(ctx context.Context, req canon.TokenCountRequest) (*canon.TokenCountResponse, error)

	ListModels(ctx context.Context) (*canon.ModelsResponse, error)
	GetModel(ctx context.Context, id string) (*canon.ModelDetailResponse, error)

	CreateEmbeddings(ctx context.Context, req canon.EmbeddingRequest) (*canon.EmbeddingResponse, error)

	CreateBatch(ctx context.Context, req canon.BatchCreateRequest) (*canon.BatchStatus, error)
	ListBatches(ctx context.Context) (*canon.BatchListResponse, error)
	GetBatch(ctx context.Context, id string) (*canon.BatchStatus, error)
	CancelBatch(ctx context.Context, id string) (*canon.BatchStatus, error)
	BatchResults(ctx context.Context, id string) (*canon.BatchResultsResponse, error)

	Moderate(ctx context.Context, req canon.ModerationRequest) (*canon.ModerationResponse, error)

	TranscribeAudio(ctx context.Context, req canon.AudioTranscriptionRequest) (*canon.AudioResponse, error)
	TranslateAudio(ctx context.Context, req canon.AudioTranslationRequest) (*canon.AudioResponse, error)
	SpeakText(ctx context.Context, req canon.AudioSpeechRequest) ([]byte, string, error)

	GenerateImages(ctx context.Context, req canon.ImageGenerationRequest) (*canon.ImageResponse, error)
	EditImage(ctx context.Context, req canon.ImageEditRequest) (*canon.ImageResponse, error)
	VaryImage(ctx context.Context, req canon.ImageVariationRequest) (*canon.ImageResponse, error)
}

// StreamSession yields StreamChunks until io.EOF-equivalent completion, then
// must be closed.
type StreamSession interface {
	Next(ctx context.Context) (*canon.StreamChunk, error)
	Close() error
}

// Unimplemented is embedded by every concrete translator. Any method the
// concrete type does not override returns apperr.EndpointNotAvailable,
// giving every provider style the full interface for free and letting each
// concrete provider opt in to only the endpoints its wire protocol covers.
type Unimplemented struct {
	ProviderName string
}

func (u Unimplemented) notAvailable(endpoint string) error {
	return apperr.NewEndpointNotAvailable(endpoint, u.ProviderName, "not supported by this provider")
}

func (u Unimplemented) Name() string { return u.ProviderName }

func (u Unimplemented) Tier(endpoint string) canon.CapabilityTier { return "" }

// FeatureFlags enumerates every capability flag a provider may advertise;
// Features responses always carry all of them, defaulted to false.
var FeatureFlags = []string{
	"tool_use", "vision", "web_search", "citations", "thinking",
	"cache_control", "embeddings", "audio", "images", "moderation",
}

// DeclareFeatures builds a full feature map with the named flags set.
func DeclareFeatures(enabled ...string) map[string]bool {
	out := make(map[string]bool, len(FeatureFlags))
	for _, f := range FeatureFlags {
		out[f] = false
	}
	for _, f := range enabled {
		out[f] = true
	}
	return out
}

func (u Unimplemented) Features() map[string]bool { return DeclareFeatures() }

func (u Unimplemented) Connect(ctx context.Context) error    { return nil }
func (u Unimplemented) Disconnect(ctx context.Context) error { return nil }

func (u Unimplemented) Chat(ctx context.Context, req canon.ChatRequest) (*canon.ChatResponse, error) {
	return nil, u.notAvailable("/chat")
}

func (u Unimplemented) ChatStream(ctx context.Context, req canon.ChatRequest) (StreamSession, error) {
	return nil, u.notAvailable("/chat/stream")
}

func (u Unimplemented) CountTokens(ctx context.Context, req canon.TokenCountRequest) (*canon.TokenCountResponse, error) {
	return nil, u.notAvailable("/tokens/count")
}

func (u Unimplemented) ListModels(ctx context.Context) (*canon.ModelsResponse, error) {
	return nil, u.notAvailable("/models")
}

func (u Unimplemented) GetModel(ctx context.Context, id string) (*canon.ModelDetailResponse, error) {
	return nil, u.notAvailable("/models/{id}")
}

func (u Unimplemented) CreateEmbeddings(ctx context.Context, req canon.EmbeddingRequest) (*canon.EmbeddingResponse, error) {
	return nil, u.notAvailable("/embeddings")
}

func (u Unimplemented) CreateBatch(ctx context.Context, req canon.BatchCreateRequest) (*canon.BatchStatus, error) {
	return nil, u.notAvailable("/batches")
}

func (u Unimplemented) ListBatches(ctx context.Context) (*canon.BatchListResponse, error) {
	return nil, u.notAvailable("/batches")
}

func (u Unimplemented) GetBatch(ctx context.Context, id string) (*canon.BatchStatus, error) {
	return nil, u.notAvailable("/batches/{id}")
}

func (u Unimplemented) CancelBatch(ctx context.Context, id string) (*canon.BatchStatus, error) {
	return nil, u.notAvailable("/batches/{id}/cancel")
}

func (u Unimplemented) BatchResults(ctx context.Context, id string) (*canon.BatchResultsResponse, error) {
	return nil, u.notAvailable("/batches/{id}/results")
}

func (u Unimplemented) Moderate(ctx context.Context, req canon.ModerationRequest) (*canon.ModerationResponse, error) {
	return nil, u.notAvailable("/moderations")
}

func (u Unimplemented) TranscribeAudio(ctx context.Context, req canon.AudioTranscriptionRequest) (*canon.AudioResponse, error) {
	return nil, u.notAvailable("/audio/transcriptions")
}

func (u Unimplemented) TranslateAudio(ctx context.Context, req canon.AudioTranslationRequest) (*canon.AudioResponse, error) {
	return nil, u.notAvailable("/audio/translations")
}

func (u Unimplemented) SpeakText(ctx context.Context, req canon.AudioSpeechRequest) ([]byte, string, error) {
	return nil, "", u.notAvailable("/audio/speech")
}

func (u Unimplemented) GenerateImages(ctx context.Context, req canon.ImageGenerationRequest) (*canon.ImageResponse, error) {
	return nil, u.notAvailable("/images/generations")
}

func (u Unimplemented) EditImage(ctx context.Context, req canon.ImageEditRequest) (*canon.ImageResponse, error) {
	return nil, u.notAvailable("/images/edits")
}

func (u Unimplemented) VaryImage(ctx context.Context, req canon.ImageVariationRequest) (*canon.ImageResponse, error) {
	return nil, u.notAvailable("/images/variations")
}
