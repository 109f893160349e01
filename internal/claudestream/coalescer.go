package claudestream

import (
	"strings"
	"sync"
	"time"
)

// Coalescer buffers text and emits it as one unit after an idle interval or
// on an explicit Flush.
//
// Flush runs emit synchronously and serializes with other flushes, so once
// Flush returns no buffered text can be emitted behind the caller's back.
type Coalescer struct {
	interval time.Duration
	emit     func(text string)
	elapsed  func()

	flushMu sync.Mutex

	mu    sync.Mutex
	buf   strings.Builder
	timer *time.Timer
}

// NewCoalescer creates a coalescer emitting through emit.
//
// When the interval elapses elapsed is called instead of Flush, so owners
// can take their own locks first; it must end up calling Flush. A nil
// elapsed flushes directly. An interval <= 0 emits on every Add.
func NewCoalescer(interval time.Duration, emit func(text string), elapsed func()) *Coalescer {
	c := &Coalescer{
		interval: interval,
		emit:     emit,
		elapsed:  elapsed,
	}
	if c.elapsed == nil {
		c.elapsed = c.Flush
	}
	return c
}

// Add buffers text and schedules a flush unless one is pending.
func (c *Coalescer) Add(text string) {
	if text == "" {
		return
	}
	if c.interval <= 0 {
		c.mu.Lock()
		c.buf.WriteString(text)
		c.mu.Unlock()
		c.Flush()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.WriteString(text)
	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval, c.elapsed)
	}
}

// Flush emits buffered text and cancels any pending schedule. Flushing an
// empty buffer only cancels the schedule.
func (c *Coalescer) Flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	text := c.buf.String()
	c.buf.Reset()
	c.mu.Unlock()

	if text != "" {
		c.emit(text)
	}
}

// Stop cancels any pending schedule without emitting.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Buffered returns the number of bytes waiting to be emitted.
func (c *Coalescer) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}
