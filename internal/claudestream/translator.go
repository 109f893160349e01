package claudestream

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/florianilch/toolbridge/internal/metrics"
	"github.com/florianilch/toolbridge/internal/sse"
	"github.com/florianilch/toolbridge/internal/toolify"
)

// Sender accepts encoded-ready frames. Send reports whether the frame was
// delivered; critical marks lifecycle frames.
type Sender interface {
	Send(ev sse.Event, critical bool) bool
}

// TokenCounter estimates token counts.
type TokenCounter interface {
	Count(text string) int
}

// Options configures a Translator.
type Options struct {
	MessageID   string
	Model       string
	InputTokens int
	// AggregationInterval is the idle time text is buffered before it is
	// sent. Zero sends text as soon as it arrives.
	AggregationInterval time.Duration
	// TokenMultiplier scales the output token estimate.
	TokenMultiplier float64
	Counter         TokenCounter
	// NewToolUseID generates tool_use block ids. Defaults to NewToolUseID.
	NewToolUseID func() string
}

// Summary describes a finished translation.
type Summary struct {
	StopReason     anthropic.StopReason
	InputTokens    int
	OutputTokens   int
	ToolCalls      int
	Failed         bool
	DeliveryFailed bool
}

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
)

// Translator converts parser events into Claude Messages frames for a single
// response. Methods are safe for concurrent use; frames are sent one at a
// time in the order they are produced.
type Translator struct {
	ctx  context.Context
	out  Sender
	opts Options

	mu        sync.Mutex
	coalescer *Coalescer

	started   bool
	finished  bool
	nextIndex int
	open      blockKind
	openIndex int

	estimate       int
	toolCalls      int
	summary        Summary
	deliveryFailed bool
}

// NewTranslator creates a translator sending frames to out.
// ctx is used for logging only.
func NewTranslator(ctx context.Context, out Sender, opts Options) *Translator {
	if opts.MessageID == "" {
		opts.MessageID = NewMessageID()
	}
	if opts.NewToolUseID == nil {
		opts.NewToolUseID = NewToolUseID
	}

	t := &Translator{
		ctx:  ctx,
		out:  out,
		opts: opts,
	}
	t.coalescer = NewCoalescer(opts.AggregationInterval, t.emitText, t.flushElapsed)
	return t
}

// Start sends message_start. It is implied by the first Handle call.
func (t *Translator) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked()
}

// Handle applies one parser event.
func (t *Translator) Handle(ev toolify.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		slog.DebugContext(t.ctx, "ignoring event after stream end", "kind", ev.Kind)
		return
	}
	t.startLocked()

	switch ev.Kind {
	case toolify.EventText:
		if t.open == blockThinking {
			t.closeBlockLocked()
		}
		t.coalescer.Add(ev.Content)

	case toolify.EventThinking:
		t.coalescer.Flush()
		if t.open == blockText {
			t.closeBlockLocked()
		}
		if t.open != blockThinking {
			t.openBlockLocked(blockThinking, ThinkingBlock{Type: "thinking", Thinking: ""})
		}
		t.sendLocked(EventContentBlockDelta, ContentBlockDelta{
			Type:  EventContentBlockDelta,
			Index: t.openIndex,
			Delta: ThinkingDelta{Type: "thinking_delta", Thinking: ev.Content},
		}, false)
		t.estimate += t.count(ev.Content)

	case toolify.EventToolCall:
		t.coalescer.Flush()
		t.closeBlockLocked()
		t.emitToolCallLocked(ev.Call)

	case toolify.EventEnd:
		t.finishLocked()
	}
}

// Pump applies events until the sequence ends or yields an error, which is
// reported through EmitError. A sequence ending without End is finished
// normally.
func (t *Translator) Pump(events iter.Seq2[toolify.Event, error]) Summary {
	t.Start()
	for ev, err := range events {
		if err != nil {
			t.EmitError(err.Error())
			return t.Summary()
		}
		t.Handle(ev)
	}
	if !t.Finished() {
		t.Handle(toolify.EndEvent())
	}
	return t.Summary()
}

// EmitError ends the stream with an error frame instead of a normal
// completion. It does nothing once the stream has ended.
func (t *Translator) EmitError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return
	}
	t.finished = true

	t.coalescer.Flush()
	t.closeBlockLocked()
	t.coalescer.Stop()

	t.summary = t.summaryLocked("")
	t.summary.Failed = true
	slog.WarnContext(t.ctx, "stream ended with error", "message", message)

	t.sendLocked(EventError, ErrorFrame{
		Type:  EventError,
		Error: ErrorBody{Type: "stream_error", Message: message},
	}, true)
}

// Finished reports whether the stream has ended.
func (t *Translator) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// Summary returns the outcome of a finished stream.
func (t *Translator) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.summary
	s.DeliveryFailed = t.deliveryFailed
	return s
}

func (t *Translator) startLocked() {
	if t.started {
		return
	}
	t.started = true
	t.sendLocked(EventMessageStart, MessageStart{
		Type: EventMessageStart,
		Message: Message{
			ID:      t.opts.MessageID,
			Type:    "message",
			Role:    "assistant",
			Model:   t.opts.Model,
			Content: []any{},
			Usage:   Usage{InputTokens: t.opts.InputTokens, OutputTokens: 0},
		},
	}, true)
}

func (t *Translator) finishLocked() {
	if t.finished {
		return
	}
	t.finished = true

	t.coalescer.Flush()
	t.closeBlockLocked()
	t.coalescer.Stop()

	reason := anthropic.StopReasonEndTurn
	if t.toolCalls > 0 {
		reason = anthropic.StopReasonToolUse
	}
	t.summary = t.summaryLocked(reason)

	slog.DebugContext(t.ctx, "stream finished",
		"stop_reason", reason,
		"output_tokens", t.summary.OutputTokens,
		"tool_calls", t.toolCalls,
	)

	t.sendLocked(EventMessageDelta, MessageDelta{
		Type:  EventMessageDelta,
		Delta: MessageDeltaBody{StopReason: reason},
		Usage: DeltaUsage{OutputTokens: t.summary.OutputTokens},
	}, true)
	t.sendLocked(EventMessageStop, MessageStop{Type: EventMessageStop}, true)
}

func (t *Translator) summaryLocked(reason anthropic.StopReason) Summary {
	return Summary{
		StopReason:   reason,
		InputTokens:  t.opts.InputTokens,
		OutputTokens: FinalOutputTokens(t.estimate, t.opts.TokenMultiplier),
		ToolCalls:    t.toolCalls,
	}
}

func (t *Translator) emitToolCallLocked(call *toolify.InvokeCall) {
	args, err := call.ArgumentsJSON()
	if err != nil {
		slog.WarnContext(t.ctx, "dropping tool call", "tool", call.Name, "error", err)
		return
	}

	index := t.allocateIndexLocked()
	t.sendLocked(EventContentBlockStart, ContentBlockStart{
		Type:  EventContentBlockStart,
		Index: index,
		ContentBlock: ToolUseBlock{
			Type:  "tool_use",
			ID:    t.opts.NewToolUseID(),
			Name:  call.Name,
			Input: json.RawMessage("{}"),
		},
	}, true)
	t.sendLocked(EventContentBlockDelta, ContentBlockDelta{
		Type:  EventContentBlockDelta,
		Index: index,
		Delta: InputJSONDelta{Type: "input_json_delta", PartialJSON: args},
	}, true)
	t.sendLocked(EventContentBlockStop, ContentBlockStop{Type: EventContentBlockStop, Index: index}, true)

	t.toolCalls++
	t.estimate += t.count(call.Name) + t.count(args)
	metrics.ToolCallsTotal.Inc()
}

// emitText is the coalescer callback. It runs with t.mu held.
func (t *Translator) emitText(text string) {
	if t.open == blockThinking {
		t.closeBlockLocked()
	}
	if t.open != blockText {
		t.openBlockLocked(blockText, TextBlock{Type: "text", Text: ""})
	}
	t.sendLocked(EventContentBlockDelta, ContentBlockDelta{
		Type:  EventContentBlockDelta,
		Index: t.openIndex,
		Delta: TextDelta{Type: "text_delta", Text: text},
	}, false)
	t.estimate += t.count(text)
}

// flushElapsed runs on the coalescer timer.
func (t *Translator) flushElapsed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.coalescer.Flush()
}

func (t *Translator) openBlockLocked(kind blockKind, block any) {
	t.open = kind
	t.openIndex = t.allocateIndexLocked()
	t.sendLocked(EventContentBlockStart, ContentBlockStart{
		Type:         EventContentBlockStart,
		Index:        t.openIndex,
		ContentBlock: block,
	}, true)
}

func (t *Translator) closeBlockLocked() {
	if t.open == blockNone {
		return
	}
	t.sendLocked(EventContentBlockStop, ContentBlockStop{Type: EventContentBlockStop, Index: t.openIndex}, true)
	t.open = blockNone
}

func (t *Translator) allocateIndexLocked() int {
	index := t.nextIndex
	t.nextIndex++
	return index
}

func (t *Translator) sendLocked(name string, payload any, critical bool) {
	if t.out.Send(sse.Event{Name: name, Payload: payload}, critical) {
		return
	}
	if !t.deliveryFailed {
		t.deliveryFailed = true
		slog.DebugContext(t.ctx, "output undeliverable, dropping further frames", "event", name)
	}
}

func (t *Translator) count(text string) int {
	if t.opts.Counter == nil {
		return (len(text) + 3) / 4
	}
	return t.opts.Counter.Count(text)
}

// FinalOutputTokens scales the output estimate by multiplier and rounds up,
// reporting at least one token. Non-finite results fall back to the
// unscaled estimate.
func FinalOutputTokens(estimate int, multiplier float64) int {
	v := math.Ceil(math.Max(1, float64(estimate)*multiplier))
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return max(estimate, 1)
	}
	return int(v)
}
