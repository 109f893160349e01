package toolify

import "fmt"

// EventKind discriminates parser events.
type EventKind int

const (
	EventText EventKind = iota
	EventThinking
	EventToolCall
	EventEnd
)

// String returns the event kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventThinking:
		return "thinking"
	case EventToolCall:
		return "tool_call"
	case EventEnd:
		return "end"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one semantic unit recovered from the backend stream.
// Content is set for text and thinking events, Call for tool calls.
type Event struct {
	Kind    EventKind
	Content string
	Call    *InvokeCall
}

// TextEvent returns a text event.
func TextEvent(content string) Event {
	return Event{Kind: EventText, Content: content}
}

// ThinkingEvent returns a thinking event.
func ThinkingEvent(content string) Event {
	return Event{Kind: EventThinking, Content: content}
}

// ToolCallEvent returns a tool call event.
func ToolCallEvent(call *InvokeCall) Event {
	return Event{Kind: EventToolCall, Call: call}
}

// EndEvent returns the terminal event.
func EndEvent() Event {
	return Event{Kind: EventEnd}
}
