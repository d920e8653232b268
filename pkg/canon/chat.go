package canon

// ChatMessage is one canonical conversation turn. Role is free-form; the
// canonical values are user, assistant, system, tool.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// RequestContext is purely correlative metadata; it never affects model
// selection or translation.
type RequestContext struct {
	HeinzelID string `json:"heinzel_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// ToolDeclaration is a provider-agnostic tool/function declaration, passed
// through to whichever translator is configured.
type ToolDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ChatRequest is the canonical request for both /chat and /chat/stream.
type ChatRequest struct {
	Messages      []ChatMessage     `json:"messages"`
	Model         string            `json:"model,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	System        string            `json:"system,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Tools         []ToolDeclaration `json:"tools,omitempty"`
	Context       RequestContext    `json:"context,omitempty"`
}

// EffectiveMaxTokens returns MaxTokens or the spec default of 1024.
func (r ChatRequest) EffectiveMaxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return 1024
}

// Usage is the canonical token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Reduce applies last-writer-wins per field, matching zero fields from other
// not overriding set fields in u.
func (u Usage) Reduce(other Usage) Usage {
	out := u
	if other.InputTokens != 0 {
		out.InputTokens = other.InputTokens
	}
	if other.OutputTokens != 0 {
		out.OutputTokens = other.OutputTokens
	}
	return out
}

// ChatResponse is the canonical non-streaming chat response.
type ChatResponse struct {
	Content       string        `json:"content"`
	Model         string        `json:"model"`
	Usage         Usage         `json:"usage"`
	Provider      string        `json:"provider"`
	StopReason    string        `json:"stop_reason,omitempty"`
	ContentBlocks ContentBlocks `json:"content_blocks,omitempty"`
}

// StreamChunkType tags the variant of a StreamChunk.
type StreamChunkType string

const (
	ChunkContentDelta     StreamChunkType = "content_delta"
	ChunkUsage            StreamChunkType = "usage"
	ChunkDone             StreamChunkType = "done"
	ChunkError            StreamChunkType = "error"
	ChunkCommandResponse  StreamChunkType = "command_response"
)

// StreamChunk is one line of the canonical streaming wire protocol.
type StreamChunk struct {
	Type    StreamChunkType        `json:"type"`
	Content string                 `json:"content,omitempty"`
	Model   string                 `json:"model,omitempty"`
	Usage   *Usage                 `json:"usage,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Command string                 `json:"command,omitempty"`
	Result  map[string]interface{} `json:"result,omitempty"`
}
