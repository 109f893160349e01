package openaichat

import "github.com/tidwall/gjson"

// reasoningFields are the delta fields backends use for reasoning output.
var reasoningFields = []string{"reasoning_content", "reasoning"}

// reasoningContent extracts reasoning text from a raw chunk delta.
func reasoningContent(rawDelta string) string {
	if rawDelta == "" {
		return ""
	}
	for _, field := range reasoningFields {
		if r := gjson.Get(rawDelta, field); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}
