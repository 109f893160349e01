// Package openaichat serves Claude Messages requests from an OpenAI-compatible
// chat completions backend.
//
// Tools are not sent to the backend natively. They are described in an
// injected system prompt keyed to a random per-request trigger, and the
// backend's text output is parsed back into tool calls by toolify.Parser.
package openaichat
