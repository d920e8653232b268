// Package canon defines the provider-agnostic request, response, stream and
// content-block shapes exposed at the gateway's boundary. Every translator
// converts between this package's types and its own upstream wire format.
package canon

import (
	"encoding/json"
	"fmt"
)

// ContentBlock is a tagged value representing one piece of multi-modal
// message content. TextBlock, ImageBlock, DocumentBlock, ToolUseBlock and
// ToolResultBlock are the only variants.
type ContentBlock interface {
	blockType() string
}

// TextBlock carries plain text content.
type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) blockType() string { return "text" }

// ImageBlock carries base64-encoded raster image data.
type ImageBlock struct {
	MediaType string `json:"media_type"` // image/jpeg, image/png, image/gif, image/webp
	Data      string `json:"data"`       // base64
}

func (ImageBlock) blockType() string { return "image" }

// DocumentBlock carries a base64-encoded PDF document.
type DocumentBlock struct {
	MediaType string `json:"media_type"` // always application/pdf
	Data      string `json:"data"`
}

func (DocumentBlock) blockType() string { return "document" }

// ToolUseBlock is an assistant-authored tool/function call. The three
// upstreams disagree on shape (Claude keeps it inline in the content list,
// OpenAI fans it into a separate tool_calls array, Gemini calls it a
// functionCall part); each translator expands/collapses it on its own.
type ToolUseBlock struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input,omitempty"`
}

func (ToolUseBlock) blockType() string { return "tool_use" }

// ToolResultBlock is a user-authored reply to a ToolUseBlock, keyed by the
// originating call's ID. Claude keeps these inline in the user message;
// OpenAI fans each one into its own role:tool message.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (ToolResultBlock) blockType() string { return "tool_result" }

type wireBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	MediaType string                 `json:"media_type,omitempty"`
	Data      string                 `json:"data,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

// MarshalContentBlock serializes a ContentBlock to its tagged JSON form.
func MarshalContentBlock(b ContentBlock) ([]byte, error) {
	switch v := b.(type) {
	case TextBlock:
		return json.Marshal(wireBlock{Type: "text", Text: v.Text})
	case ImageBlock:
		return json.Marshal(wireBlock{Type: "image", MediaType: v.MediaType, Data: v.Data})
	case DocumentBlock:
		return json.Marshal(wireBlock{Type: "document", MediaType: v.MediaType, Data: v.Data})
	case ToolUseBlock:
		return json.Marshal(wireBlock{Type: "tool_use", ID: v.ID, Name: v.Name, Input: v.Input})
	case ToolResultBlock:
		return json.Marshal(wireBlock{Type: "tool_result", ToolUseID: v.ToolUseID, Text: v.Content, IsError: v.IsError})
	default:
		return nil, fmt.Errorf("canon: unknown content block type %T", b)
	}
}

func unmarshalContentBlock(data []byte) (ContentBlock, error) {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case "text":
		return TextBlock{Text: w.Text}, nil
	case "image":
		return ImageBlock{MediaType: w.MediaType, Data: w.Data}, nil
	case "document":
		return DocumentBlock{MediaType: w.MediaType, Data: w.Data}, nil
	case "tool_use":
		return ToolUseBlock{ID: w.ID, Name: w.Name, Input: w.Input}, nil
	case "tool_result":
		return ToolResultBlock{ToolUseID: w.ToolUseID, Content: w.Text, IsError: w.IsError}, nil
	default:
		return nil, fmt.Errorf("canon: unknown content block type %q", w.Type)
	}
}

// ContentBlocks is a block list that marshals in tagged wire form, used
// where a bare block array (not the string-or-array union) is exposed.
type ContentBlocks []ContentBlock

func (b ContentBlocks) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(b))
	for _, blk := range b {
		data, err := MarshalContentBlock(blk)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	return json.Marshal(raw)
}

func (b *ContentBlocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(ContentBlocks, 0, len(raws))
	for _, r := range raws {
		blk, err := unmarshalContentBlock(r)
		if err != nil {
			return err
		}
		out = append(out, blk)
	}
	*b = out
	return nil
}

// MessageContent is either a plain string (the fast path) or an ordered
// sequence of content blocks. Empty content is permitted and serialises as
// an empty string.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

// IsBlocks reports whether this content is the block-sequence form.
func (c MessageContent) IsBlocks() bool { return c.Blocks != nil }

// String renders the content as plain text: the Text field directly, or the
// concatenation of any TextBlocks among Blocks otherwise.
func (c MessageContent) String() string {
	if !c.IsBlocks() {
		return c.Text
	}
	out := ""
	for _, b := range c.Blocks {
		if t, ok := b.(TextBlock); ok {
			out += t.Text
		}
	}
	return out
}

// TextContent builds a plain-string MessageContent.
func TextContent(s string) MessageContent { return MessageContent{Text: s} }

// BlockContent builds a block-sequence MessageContent.
func BlockContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// MarshalJSON implements the string-or-array union on the wire.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if !c.IsBlocks() {
		return json.Marshal(c.Text)
	}
	raw := make([]json.RawMessage, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		data, err := MarshalContentBlock(b)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	return json.Marshal(raw)
}

// UnmarshalJSON implements the string-or-array union on the wire.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Blocks = nil
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("canon: message content is neither string nor array: %w", err)
	}
	blocks := make([]ContentBlock, 0, len(raws))
	for _, r := range raws {
		b, err := unmarshalContentBlock(r)
		if err != nil {
			return err
		}
		blocks = append(blocks, b)
	}
	c.Blocks = blocks
	c.Text = ""
	return nil
}
