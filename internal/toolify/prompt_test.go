package toolify

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTrigger(t *testing.T) {
	pattern := regexp.MustCompile(`^<<CALL_[0-9a-f]{6}>>$`)

	a, b := NewTrigger(), NewTrigger()

	assert.Regexp(t, pattern, a)
	assert.Regexp(t, pattern, b)
	assert.NotEqual(t, a, b)
}

func TestRenderPrompt(t *testing.T) {
	tools := []Tool{
		{
			Name:        "get_weather",
			Description: "Weather for a <city>",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"city": {"type": "string", "description": "City name"},
					"unit": {"type": ["string", "null"], "enum": ["c", "f"]}
				},
				"required": ["city"]
			}`),
		},
		{Name: "ping"},
	}

	prompt := RenderPrompt("<<CALL_abc123>>", tools, Choice{Mode: ChoiceAuto})

	assert.Equal(t, 3, strings.Count(prompt, "<<CALL_abc123>>"))
	assert.Contains(t, prompt, "<name>get_weather</name>")
	assert.Contains(t, prompt, "<description>Weather for a &lt;city&gt;</description>")
	assert.Contains(t, prompt, "<required><param>city</param></required>")
	assert.Contains(t, prompt, `<parameter name="city">`)
	assert.Contains(t, prompt, "<type>string|null</type>")
	assert.Contains(t, prompt, `<enum>["c", "f"]</enum>`)
	assert.Contains(t, prompt, "<name>ping</name>\n  <parameters/>")
	assert.NotContains(t, prompt, "You must call")
	assert.True(t, strings.HasSuffix(prompt, "</function_list>"))
}

func TestRenderPrompt_Choice(t *testing.T) {
	anyPrompt := RenderPrompt("<<CALL_1>>", nil, Choice{Mode: ChoiceAny})
	assert.Contains(t, anyPrompt, "You must call at least one tool")

	toolPrompt := RenderPrompt("<<CALL_1>>", nil, Choice{Mode: ChoiceTool, Name: "ping"})
	assert.Contains(t, toolPrompt, `You must call the tool "ping"`)
}
