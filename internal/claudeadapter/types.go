package claudeadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MessagesRequest is the body of POST /v1/messages.
type MessagesRequest struct {
	Model         string          `json:"model" validate:"required"`
	MaxTokens     *int            `json:"max_tokens" validate:"required,gt=0"`
	Messages      []Message       `json:"messages" validate:"required,min=1,dive"`
	System        Content         `json:"system,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP          *float64        `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []Tool          `json:"tools,omitempty" validate:"dive"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Thinking      json.RawMessage `json:"thinking,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string  `json:"role" validate:"required,oneof=user assistant"`
	Content Content `json:"content"`
}

// ContentBlock is a single content block. Fields are populated per Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string  `json:"tool_use_id,omitempty"`
	Content   Content `json:"content,omitempty"`
	IsError   bool    `json:"is_error,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
}

// Content is a list of content blocks. It also accepts the string shorthand,
// which becomes a single text block.
type Content []ContentBlock

// UnmarshalJSON accepts a string or an array of content blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*c = nil
		return nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = Content{{Type: "text", Text: s}}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(trimmed, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}
	*c = blocks
	return nil
}

// Text joins the text blocks of c with newlines.
func (c Content) Text() string {
	var parts []string
	for _, b := range c {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Tool is a client tool definition.
type Tool struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice constrains tool use.
type ToolChoice struct {
	Type string `json:"type" validate:"required,oneof=auto any tool none"`
	Name string `json:"name,omitempty" validate:"required_if=Type tool"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required fields and value ranges.
// Failures are returned as an invalid_request_error response.
func (r *MessagesRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewError(ErrorTypeInvalidRequest, err.Error())
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return NewError(ErrorTypeInvalidRequest, strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	// Namespace is "MessagesRequest.Messages[0].Role"; drop the type name.
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required", "required_if":
		return field + ": field required"
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s: must contain at least %s item(s)", field, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param())
	}
}
