// Package tokencount estimates token counts for usage reporting.
package tokencount

import (
	"log/slog"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter estimates the number of tokens in a text.
// The zero value counts with the length heuristic only.
type Counter struct {
	codec tokenizer.Codec
}

var (
	defaultOnce    sync.Once
	defaultCounter *Counter
)

// Default returns a process-wide counter backed by the o200k_base encoding.
// If the encoding cannot be loaded it falls back to a length heuristic.
func Default() *Counter {
	defaultOnce.Do(func() {
		codec, err := tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			slog.Warn("tokenizer unavailable, using length heuristic", "error", err)
			defaultCounter = &Counter{}
			return
		}
		defaultCounter = &Counter{codec: codec}
	})
	return defaultCounter
}

// Count returns the estimated token count of text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.codec == nil {
		return approximate(text)
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return approximate(text)
	}
	return n
}

// approximate assumes roughly four bytes per token.
func approximate(text string) int {
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}
