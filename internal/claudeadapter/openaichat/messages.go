package openaichat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"

	"github.com/florianilch/toolbridge/internal/claudeadapter"
	"github.com/florianilch/toolbridge/internal/toolify"
)

// requestOverhead approximates the framing tokens of a chat request.
const requestOverhead = 3

// mappedRequest is a Claude request rewritten for the chat backend.
type mappedRequest struct {
	params openai.ChatCompletionNewParams
	model  string
	// texts holds every message string sent, for input token estimation.
	texts []string
}

func (a *Adapter) mapRequest(req *claudeadapter.MessagesRequest, trigger string) (*mappedRequest, error) {
	model := req.Model
	if a.cfg.ModelOverride != "" {
		model = a.cfg.ModelOverride
	}

	m := &mappedRequest{model: model}
	add := func(role, content string, msg openai.ChatCompletionMessageParamUnion) {
		m.params.Messages = append(m.params.Messages, msg)
		m.texts = append(m.texts, role, content)
	}

	tools, choice, err := toolDefinitions(req)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 && choice.Mode != toolify.ChoiceNone {
		prompt := toolify.RenderPrompt(trigger, tools, choice)
		add("system", prompt, openai.SystemMessage(prompt))
	}

	if system := req.System.Text(); system != "" {
		add("system", system, openai.SystemMessage(system))
	}

	for i, msg := range req.Messages {
		content := renderContent(msg.Content, trigger)
		if content == "" {
			continue
		}
		switch msg.Role {
		case "user":
			add(msg.Role, content, openai.UserMessage(content))
		case "assistant":
			add(msg.Role, content, openai.AssistantMessage(content))
		default:
			return nil, claudeadapter.NewError(claudeadapter.ErrorTypeInvalidRequest,
				fmt.Sprintf("messages.%d.role: unsupported role %q", i, msg.Role))
		}
	}
	if len(m.params.Messages) == 0 {
		return nil, claudeadapter.NewError(claudeadapter.ErrorTypeInvalidRequest, "messages: no content to send")
	}

	m.params.Model = openai.ChatModel(model)
	if req.MaxTokens != nil {
		m.params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Temperature != nil {
		m.params.Temperature = openai.Float(*req.Temperature)
	} else if a.cfg.Temperature > 0 {
		m.params.Temperature = openai.Float(a.cfg.Temperature)
	}
	if req.TopP != nil {
		m.params.TopP = openai.Float(*req.TopP)
	} else if a.cfg.TopP > 0 {
		m.params.TopP = openai.Float(a.cfg.TopP)
	}
	if len(req.StopSequences) > 0 {
		m.params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}

	return m, nil
}

func toolDefinitions(req *claudeadapter.MessagesRequest) ([]toolify.Tool, toolify.Choice, error) {
	choice := toolify.Choice{Mode: toolify.ChoiceAuto}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case "auto":
		case "any":
			choice.Mode = toolify.ChoiceAny
		case "none":
			choice.Mode = toolify.ChoiceNone
		case "tool":
			choice = toolify.Choice{Mode: toolify.ChoiceTool, Name: req.ToolChoice.Name}
		}
	}

	tools := make([]toolify.Tool, 0, len(req.Tools))
	names := make(map[string]bool, len(req.Tools))
	for _, t := range req.Tools {
		if names[t.Name] {
			return nil, choice, claudeadapter.NewError(claudeadapter.ErrorTypeInvalidRequest,
				fmt.Sprintf("tools: duplicate tool name %q", t.Name))
		}
		names[t.Name] = true
		tools = append(tools, toolify.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	if choice.Mode == toolify.ChoiceTool && !names[choice.Name] {
		return nil, choice, claudeadapter.NewError(claudeadapter.ErrorTypeInvalidRequest,
			fmt.Sprintf("tool_choice: unknown tool %q", choice.Name))
	}
	if choice.Mode == toolify.ChoiceAny && len(tools) == 0 {
		return nil, choice, claudeadapter.NewError(claudeadapter.ErrorTypeInvalidRequest,
			"tool_choice: any requires at least one tool")
	}
	return tools, choice, nil
}

// renderContent flattens content blocks into the plain text the backend sees.
// Prior tool calls are written in the same trigger format the model is asked
// to produce, so the history reads as a consistent example.
func renderContent(blocks claudeadapter.Content, trigger string) string {
	var parts []string
	triggered := false
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		case "tool_use":
			call := toolify.EncodeInvocation(b.Name, decodeInput(b.Input))
			if !triggered {
				call = trigger + "\n" + call
				triggered = true
			}
			parts = append(parts, call)
		case "tool_result":
			parts = append(parts, renderToolResult(b))
		case "image", "document":
			parts = append(parts, fmt.Sprintf("[%s omitted]", b.Type))
		}
	}
	return strings.Join(parts, "\n\n")
}

func renderToolResult(b claudeadapter.ContentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<tool_result tool_use_id=\"%s\"", b.ToolUseID)
	if b.IsError {
		sb.WriteString(` is_error="true"`)
	}
	sb.WriteString(">\n")
	sb.WriteString(renderContent(b.Content, ""))
	sb.WriteString("\n</tool_result>")
	return sb.String()
}

func decodeInput(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return map[string]any{}
	}
	return args
}
