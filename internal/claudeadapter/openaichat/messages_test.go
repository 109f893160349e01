package openaichat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/florianilch/toolbridge/internal/claudeadapter"
)

const testTrigger = "<<CALL_t3st00>>"

func newMappingAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func baseRequest(messages ...claudeadapter.Message) *claudeadapter.MessagesRequest {
	maxTokens := 256
	return &claudeadapter.MessagesRequest{
		Model:     "claude-test",
		MaxTokens: &maxTokens,
		Messages:  messages,
	}
}

func userText(s string) claudeadapter.Message {
	return claudeadapter.Message{Role: "user", Content: claudeadapter.Content{{Type: "text", Text: s}}}
}

func weatherTool() claudeadapter.Tool {
	return claudeadapter.Tool{
		Name:        "get_weather",
		Description: "Current weather for a city",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
	}
}

func paramsJSON(t *testing.T, m *mappedRequest) string {
	t.Helper()
	data, err := json.Marshal(&m.params)
	require.NoError(t, err)
	return string(data)
}

func TestMapRequest_PlainConversation(t *testing.T) {
	req := baseRequest(userText("hello"))
	req.System = claudeadapter.Content{{Type: "text", Text: "be brief"}}

	m, err := newMappingAdapter(Config{}).mapRequest(req, testTrigger)
	require.NoError(t, err)

	body := paramsJSON(t, m)
	assert.Equal(t, "claude-test", gjson.Get(body, "model").String())
	assert.Equal(t, int64(256), gjson.Get(body, "max_tokens").Int())
	assert.Equal(t, int64(2), gjson.Get(body, "messages.#").Int())
	assert.Equal(t, "system", gjson.Get(body, "messages.0.role").String())
	assert.Equal(t, "be brief", gjson.Get(body, "messages.0.content").String())
	assert.Equal(t, "user", gjson.Get(body, "messages.1.role").String())
	assert.Equal(t, "hello", gjson.Get(body, "messages.1.content").String())
	assert.NotContains(t, body, testTrigger)
}

func TestMapRequest_InjectsToolPrompt(t *testing.T) {
	req := baseRequest(userText("weather in Paris?"))
	req.Tools = []claudeadapter.Tool{weatherTool()}

	m, err := newMappingAdapter(Config{}).mapRequest(req, testTrigger)
	require.NoError(t, err)

	body := paramsJSON(t, m)
	prompt := gjson.Get(body, "messages.0.content").String()
	assert.Equal(t, "system", gjson.Get(body, "messages.0.role").String())
	assert.Contains(t, prompt, testTrigger)
	assert.Contains(t, prompt, "get_weather")
	assert.False(t, gjson.Get(body, "tools").Exists())
}

func TestMapRequest_ToolChoiceNoneSkipsPrompt(t *testing.T) {
	req := baseRequest(userText("hi"))
	req.Tools = []claudeadapter.Tool{weatherTool()}
	req.ToolChoice = &claudeadapter.ToolChoice{Type: "none"}

	m, err := newMappingAdapter(Config{}).mapRequest(req, testTrigger)
	require.NoError(t, err)

	body := paramsJSON(t, m)
	assert.Equal(t, int64(1), gjson.Get(body, "messages.#").Int())
	assert.NotContains(t, body, testTrigger)
}

func TestMapRequest_RendersToolHistory(t *testing.T) {
	req := baseRequest(
		userText("weather in Paris?"),
		claudeadapter.Message{Role: "assistant", Content: claudeadapter.Content{
			{Type: "text", Text: "Checking."},
			{Type: "tool_use", ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"Paris"}`)},
		}},
		claudeadapter.Message{Role: "user", Content: claudeadapter.Content{
			{Type: "tool_result", ToolUseID: "toolu_1", Content: claudeadapter.Content{{Type: "text", Text: "18C"}}},
		}},
	)
	req.Tools = []claudeadapter.Tool{weatherTool()}

	m, err := newMappingAdapter(Config{}).mapRequest(req, testTrigger)
	require.NoError(t, err)

	body := paramsJSON(t, m)
	assistant := gjson.Get(body, "messages.2.content").String()
	assert.Equal(t, "assistant", gjson.Get(body, "messages.2.role").String())
	assert.Equal(t,
		"Checking.\n\n"+testTrigger+"\n"+`<invoke name="get_weather">`+"\n"+`<parameter name="city">Paris</parameter>`+"\n</invoke>",
		assistant)

	result := gjson.Get(body, "messages.3.content").String()
	assert.Equal(t, "<tool_result tool_use_id=\"toolu_1\">\n18C\n</tool_result>", result)
}

func TestMapRequest_Sampling(t *testing.T) {
	req := baseRequest(userText("hi"))

	m, err := newMappingAdapter(Config{Temperature: 0.3, ModelOverride: "gpt-test"}).mapRequest(req, testTrigger)
	require.NoError(t, err)
	body := paramsJSON(t, m)
	assert.Equal(t, "gpt-test", gjson.Get(body, "model").String())
	assert.InDelta(t, 0.3, gjson.Get(body, "temperature").Float(), 1e-9)
	assert.False(t, gjson.Get(body, "top_p").Exists())

	temp := 0.9
	req.Temperature = &temp
	m, err = newMappingAdapter(Config{Temperature: 0.3}).mapRequest(req, testTrigger)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, gjson.Get(paramsJSON(t, m), "temperature").Float(), 1e-9)
}

func TestMapRequest_InvalidToolChoice(t *testing.T) {
	tests := []struct {
		name   string
		tools  []claudeadapter.Tool
		choice *claudeadapter.ToolChoice
	}{
		{name: "unknown named tool", tools: []claudeadapter.Tool{weatherTool()}, choice: &claudeadapter.ToolChoice{Type: "tool", Name: "nope"}},
		{name: "any without tools", choice: &claudeadapter.ToolChoice{Type: "any"}},
		{name: "duplicate tool", tools: []claudeadapter.Tool{weatherTool(), weatherTool()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest(userText("hi"))
			req.Tools = tt.tools
			req.ToolChoice = tt.choice

			_, err := newMappingAdapter(Config{}).mapRequest(req, testTrigger)

			var errResp *claudeadapter.ErrorResponse
			require.True(t, errors.As(err, &errResp))
			assert.Equal(t, claudeadapter.ErrorTypeInvalidRequest, errResp.Err.Type)
		})
	}
}

func TestMapRequest_EmptyConversation(t *testing.T) {
	req := baseRequest(claudeadapter.Message{Role: "user", Content: claudeadapter.Content{{Type: "thinking", Thinking: "x"}}})

	_, err := newMappingAdapter(Config{}).mapRequest(req, testTrigger)
	assert.Error(t, err)
}

func TestReasoningContent(t *testing.T) {
	assert.Equal(t, "hmm", reasoningContent(`{"reasoning_content":"hmm"}`))
	assert.Equal(t, "hmm", reasoningContent(`{"content":"","reasoning":"hmm"}`))
	assert.Empty(t, reasoningContent(`{"content":"hi"}`))
	assert.Empty(t, reasoningContent(""))
}
