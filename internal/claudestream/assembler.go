package claudestream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/florianilch/toolbridge/internal/sse"
)

// StreamError reports a stream that ended with an error frame.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream error: " + e.Message
}

// Assembler is a Sender that folds a frame sequence into a complete
// Message, for clients that did not ask for streaming.
type Assembler struct {
	msg       Message
	blocks    []any
	toolInput map[int]*strings.Builder
	err       *StreamError
	stopped   bool
}

// Compile-time check that Assembler implements Sender
var _ Sender = (*Assembler)(nil)

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{toolInput: make(map[int]*strings.Builder)}
}

// Send applies one frame. It always reports success.
func (a *Assembler) Send(ev sse.Event, _ bool) bool {
	switch p := ev.Payload.(type) {
	case MessageStart:
		a.msg = p.Message
	case ContentBlockStart:
		a.startBlock(p)
	case ContentBlockDelta:
		a.applyDelta(p)
	case ContentBlockStop:
		if b, ok := a.toolInput[p.Index]; ok {
			if tu, ok := a.block(p.Index).(*ToolUseBlock); ok {
				tu.Input = json.RawMessage(b.String())
			}
			delete(a.toolInput, p.Index)
		}
	case MessageDelta:
		reason := p.Delta.StopReason
		a.msg.StopReason = &reason
		a.msg.Usage.OutputTokens = p.Usage.OutputTokens
	case MessageStop:
		a.stopped = true
	case ErrorFrame:
		a.err = &StreamError{Message: p.Error.Message}
	}
	return true
}

// Message returns the assembled message, or the stream error if the stream
// failed or never completed.
func (a *Assembler) Message() (*Message, error) {
	if a.err != nil {
		return nil, a.err
	}
	if !a.stopped {
		return nil, &StreamError{Message: "stream ended before message_stop"}
	}
	msg := a.msg
	msg.Content = a.blocks
	if msg.Content == nil {
		msg.Content = []any{}
	}
	return &msg, nil
}

func (a *Assembler) startBlock(p ContentBlockStart) {
	if p.Index != len(a.blocks) {
		a.err = &StreamError{Message: fmt.Sprintf("unexpected block index %d, want %d", p.Index, len(a.blocks))}
		return
	}
	switch b := p.ContentBlock.(type) {
	case TextBlock:
		a.blocks = append(a.blocks, &b)
	case ThinkingBlock:
		a.blocks = append(a.blocks, &b)
	case ToolUseBlock:
		a.blocks = append(a.blocks, &b)
		a.toolInput[p.Index] = &strings.Builder{}
	default:
		a.blocks = append(a.blocks, b)
	}
}

func (a *Assembler) applyDelta(p ContentBlockDelta) {
	switch d := p.Delta.(type) {
	case TextDelta:
		if b, ok := a.block(p.Index).(*TextBlock); ok {
			b.Text += d.Text
		}
	case ThinkingDelta:
		if b, ok := a.block(p.Index).(*ThinkingBlock); ok {
			b.Thinking += d.Thinking
		}
	case InputJSONDelta:
		if b, ok := a.toolInput[p.Index]; ok {
			b.WriteString(d.PartialJSON)
		}
	}
}

func (a *Assembler) block(index int) any {
	if index < 0 || index >= len(a.blocks) {
		return nil
	}
	return a.blocks[index]
}
