// Package claudestream turns parser events into Claude Messages stream
// frames.
//
// A Translator owns the block lifecycle of one response: it opens, feeds and
// closes text, thinking and tool_use content blocks with strictly increasing
// indices, coalesces bursts of text into fewer deltas, tracks an output token
// estimate, and ends the stream exactly once, either with message_delta and
// message_stop or with an error frame.
//
// Frames go to a Sender. sse.Writer delivers them to a client; Assembler
// folds them into a complete Message for non-streaming responses.
package claudestream
