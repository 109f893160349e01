package claudestream

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/toolbridge/internal/toolify"
)

func TestAssembler_BuildsMessage(t *testing.T) {
	asm := NewAssembler()
	tr := newTestTranslator(asm, 0)

	tr.Handle(toolify.ThinkingEvent("plan"))
	tr.Handle(toolify.TextEvent("Checking "))
	tr.Handle(toolify.TextEvent("weather."))
	tr.Handle(call("get_weather", map[string]any{"city": "Oslo"}))
	tr.Handle(toolify.EndEvent())

	msg, err := asm.Message()
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "msg_test",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [
			{"type": "thinking", "thinking": "plan"},
			{"type": "text", "text": "Checking weather."},
			{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Oslo"}}
		],
		"stop_reason": "tool_use",
		"stop_sequence": null,
		"usage": {"input_tokens": 7, "output_tokens": 47}
	}`, string(data))
	assert.Equal(t, anthropic.StopReasonToolUse, *msg.StopReason)
}

func TestAssembler_StreamError(t *testing.T) {
	asm := NewAssembler()
	tr := newTestTranslator(asm, 0)

	tr.Handle(toolify.TextEvent("partial"))
	tr.EmitError("connection reset")

	_, err := asm.Message()

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "connection reset", streamErr.Message)
}

func TestAssembler_IncompleteStream(t *testing.T) {
	asm := NewAssembler()
	tr := newTestTranslator(asm, 0)

	tr.Handle(toolify.TextEvent("partial"))

	_, err := asm.Message()
	assert.Error(t, err)
}
