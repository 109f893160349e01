package toolify

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

var (
	invokeOpen  = []byte("<invoke")
	invokeClose = []byte("</invoke>")
)

// Parser recovers text, thinking and tool call events from a backend
// character stream. A Parser serves a single response and is not safe for
// concurrent use.
//
// Outside an invocation region the parser keeps only the trigger prefix it
// has matched so far; text that can no longer be part of the trigger is
// released immediately. Once the trigger has been seen, input is captured
// until complete <invoke> fragments can be cut out of it.
type Parser struct {
	trigger []rune
	// failure[i] is the length of the longest proper prefix of
	// trigger[:i+1] that is also its suffix.
	failure []int
	pending []rune

	capture   []byte
	capturing bool
	finished  bool

	events   []Event
	tail     strings.Builder
	tailKind EventKind
	tailOpen bool

	onDiscard func(fragment string, err error)
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithDiscardHandler registers a callback invoked for every invocation
// fragment that is dropped because it could not be decoded.
func WithDiscardHandler(fn func(fragment string, err error)) ParserOption {
	return func(p *Parser) {
		p.onDiscard = fn
	}
}

// NewParser creates a parser watching for the given trigger marker.
// An empty trigger disables tool call detection.
func NewParser(trigger string, opts ...ParserOption) *Parser {
	p := &Parser{
		trigger: []rune(trigger),
	}
	p.failure = prefixFunction(p.trigger)
	p.pending = make([]rune, 0, len(p.trigger))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed feeds every character of s in order.
func (p *Parser) Feed(s string) {
	for _, r := range s {
		p.FeedRune(r)
	}
}

// FeedRune feeds a single decoded character.
func (p *Parser) FeedRune(r rune) {
	if p.finished {
		return
	}
	if p.capturing {
		p.capture = utf8.AppendRune(p.capture, r)
		// A fragment can only complete on the closing bracket of </invoke>.
		if r == '>' {
			p.extract(false)
		}
		return
	}
	p.scan(r)
}

// FeedThinking records reasoning text reported by the backend out of band.
func (p *Parser) FeedThinking(s string) {
	if p.finished {
		return
	}
	p.appendContent(EventThinking, s)
}

// Finish flushes buffered input and appends the End event. The parser
// ignores further input afterwards.
func (p *Parser) Finish() {
	if p.finished {
		return
	}
	if len(p.pending) > 0 {
		p.appendContent(EventText, string(p.pending))
		p.pending = p.pending[:0]
	}
	if p.capturing {
		p.extract(true)
	}
	p.finished = true
	p.push(EndEvent())
}

// ConsumeEvents returns the events produced since the previous call.
// Adjacent text (or thinking) output that has not been consumed yet is
// returned as a single event.
func (p *Parser) ConsumeEvents() []Event {
	p.sealTail()
	if len(p.events) == 0 {
		return nil
	}
	events := p.events
	p.events = nil
	return events
}

// Capturing reports whether the trigger has been seen.
func (p *Parser) Capturing() bool {
	return p.capturing
}

// scan advances the trigger match by one character.
func (p *Parser) scan(r rune) {
	if len(p.trigger) == 0 {
		p.appendContent(EventText, string(r))
		return
	}

	m := len(p.pending)
	for m > 0 && p.trigger[m] != r {
		m = p.failure[m-1]
	}
	if p.trigger[m] == r {
		m++
	}

	// pending+r ends with trigger[:m]; everything before that is settled text.
	p.pending = append(p.pending, r)
	if settled := len(p.pending) - m; settled > 0 {
		p.appendContent(EventText, string(p.pending[:settled]))
		p.pending = append(p.pending[:0], p.pending[settled:]...)
	}

	if m == len(p.trigger) {
		p.pending = p.pending[:0]
		p.capturing = true
		p.capture = p.capture[:0]
	}
}

// extract cuts complete invocation fragments out of the capture buffer.
// With force set, whatever cannot complete anymore is flushed and capture
// mode ends.
func (p *Parser) extract(force bool) {
	for {
		start := bytes.Index(p.capture, invokeOpen)
		if start < 0 {
			if force {
				p.emitStray(p.capture)
				p.resetCapture()
			}
			return
		}

		rel := bytes.Index(p.capture[start:], invokeClose)
		if rel < 0 {
			if force {
				p.emitStray(p.capture[:start])
				p.discard(string(p.capture[start:]), errUnterminated)
				p.resetCapture()
			}
			return
		}
		end := start + rel + len(invokeClose)

		p.emitStray(p.capture[:start])
		fragment := string(p.capture[start:end])
		if call, err := DecodeInvocation(fragment); err != nil {
			p.discard(fragment, err)
		} else {
			p.push(ToolCallEvent(call))
		}
		p.capture = append(p.capture[:0], p.capture[end:]...)
	}
}

func (p *Parser) resetCapture() {
	p.capture = p.capture[:0]
	p.capturing = false
}

// emitStray emits prose found inside the capture region. Whitespace around
// the trigger and between fragments is layout, not content, and repeated
// triggers are markers, not prose.
func (p *Parser) emitStray(b []byte) {
	if len(p.trigger) > 0 {
		b = bytes.ReplaceAll(b, []byte(string(p.trigger)), nil)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return
	}
	p.appendContent(EventText, string(b))
}

func (p *Parser) discard(fragment string, err error) {
	if p.onDiscard != nil {
		p.onDiscard(fragment, err)
	}
}

func (p *Parser) appendContent(kind EventKind, s string) {
	if s == "" {
		return
	}
	if p.tailOpen && p.tailKind != kind {
		p.sealTail()
	}
	if !p.tailOpen {
		p.tailOpen = true
		p.tailKind = kind
	}
	p.tail.WriteString(s)
}

func (p *Parser) push(ev Event) {
	p.sealTail()
	p.events = append(p.events, ev)
}

func (p *Parser) sealTail() {
	if !p.tailOpen {
		return
	}
	p.events = append(p.events, Event{Kind: p.tailKind, Content: p.tail.String()})
	p.tail.Reset()
	p.tailOpen = false
}

// prefixFunction computes the KMP failure table for pattern.
func prefixFunction(pattern []rune) []int {
	failure := make([]int, len(pattern))
	k := 0
	for i := 1; i < len(pattern); i++ {
		for k > 0 && pattern[i] != pattern[k] {
			k = failure[k-1]
		}
		if pattern[i] == pattern[k] {
			k++
		}
		failure[i] = k
	}
	return failure
}
