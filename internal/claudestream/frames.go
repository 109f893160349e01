package claudestream

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
)

// Event names of the Claude Messages stream.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// Usage is the token accounting reported to clients.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message is the message object of message_start, and the complete
// response body for non-streaming requests.
type Message struct {
	ID           string                `json:"id"`
	Type         string                `json:"type"`
	Role         string                `json:"role"`
	Model        string                `json:"model"`
	Content      []any                 `json:"content"`
	StopReason   *anthropic.StopReason `json:"stop_reason"`
	StopSequence *string               `json:"stop_sequence"`
	Usage        Usage                 `json:"usage"`
}

// TextBlock is a text content block.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ThinkingBlock is a thinking content block.
type ThinkingBlock struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

// ToolUseBlock is a tool_use content block.
type ToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// TextDelta carries text for an open text block.
type TextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ThinkingDelta carries reasoning for an open thinking block.
type ThinkingDelta struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

// InputJSONDelta carries tool input JSON for an open tool_use block.
type InputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

// MessageStart is the payload of message_start.
type MessageStart struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// ContentBlockStart is the payload of content_block_start.
type ContentBlockStart struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock any    `json:"content_block"`
}

// ContentBlockDelta is the payload of content_block_delta.
type ContentBlockDelta struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta any    `json:"delta"`
}

// ContentBlockStop is the payload of content_block_stop.
type ContentBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDelta is the payload of message_delta.
type MessageDelta struct {
	Type  string           `json:"type"`
	Delta MessageDeltaBody `json:"delta"`
	Usage DeltaUsage       `json:"usage"`
}

// MessageDeltaBody holds the terminal status.
type MessageDeltaBody struct {
	StopReason   anthropic.StopReason `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence"`
}

// DeltaUsage is the usage object of message_delta.
type DeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// MessageStop is the payload of message_stop.
type MessageStop struct {
	Type string `json:"type"`
}

// ErrorFrame is the payload of an error event.
type ErrorFrame struct {
	Type  string    `json:"type"`
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a stream failure.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
