package claudeadapter

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Content
	}{
		{
			name: "string shorthand",
			body: `"hello"`,
			want: Content{{Type: "text", Text: "hello"}},
		},
		{
			name: "block array",
			body: `[{"type":"text","text":"a"},{"type":"tool_use","id":"toolu_1","name":"f","input":{"x":1}}]`,
			want: Content{
				{Type: "text", Text: "a"},
				{Type: "tool_use", ID: "toolu_1", Name: "f", Input: json.RawMessage(`{"x":1}`)},
			},
		},
		{
			name: "null",
			body: `null`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			require.NoError(t, json.Unmarshal([]byte(tt.body), &c))
			assert.Equal(t, tt.want, c)
		})
	}
}

func TestContent_UnmarshalJSON_NestedToolResult(t *testing.T) {
	body := `[{"type":"tool_result","tool_use_id":"toolu_1","content":"72F"}]`

	var c Content
	require.NoError(t, json.Unmarshal([]byte(body), &c))

	require.Len(t, c, 1)
	assert.Equal(t, "toolu_1", c[0].ToolUseID)
	assert.Equal(t, "72F", c[0].Content.Text())
}

func TestContent_UnmarshalJSON_RejectsNumber(t *testing.T) {
	var c Content
	assert.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestContent_Text(t *testing.T) {
	c := Content{
		{Type: "text", Text: "first"},
		{Type: "image"},
		{Type: "text", Text: "second"},
	}
	assert.Equal(t, "first\nsecond", c.Text())
}

func validRequest() MessagesRequest {
	maxTokens := 128
	return MessagesRequest{
		Model:     "claude-test",
		MaxTokens: &maxTokens,
		Messages:  []Message{{Role: "user", Content: Content{{Type: "text", Text: "hi"}}}},
	}
}

func TestMessagesRequest_Validate(t *testing.T) {
	zero := 0
	temp := 3.5

	tests := []struct {
		name    string
		mutate  func(*MessagesRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(*MessagesRequest) {}},
		{name: "missing model", mutate: func(r *MessagesRequest) { r.Model = "" }, wantErr: "Model: field required"},
		{name: "missing max_tokens", mutate: func(r *MessagesRequest) { r.MaxTokens = nil }, wantErr: "MaxTokens: field required"},
		{name: "zero max_tokens", mutate: func(r *MessagesRequest) { r.MaxTokens = &zero }, wantErr: "MaxTokens"},
		{name: "no messages", mutate: func(r *MessagesRequest) { r.Messages = []Message{} }, wantErr: "Messages"},
		{
			name:    "bad role",
			mutate:  func(r *MessagesRequest) { r.Messages[0].Role = "system" },
			wantErr: "Messages[0].Role: must be one of [user assistant]",
		},
		{name: "temperature out of range", mutate: func(r *MessagesRequest) { r.Temperature = &temp }, wantErr: "Temperature"},
		{
			name:    "tool without name",
			mutate:  func(r *MessagesRequest) { r.Tools = []Tool{{Description: "x"}} },
			wantErr: "Tools[0].Name: field required",
		},
		{
			name:    "named tool choice without name",
			mutate:  func(r *MessagesRequest) { r.ToolChoice = &ToolChoice{Type: "tool"} },
			wantErr: "ToolChoice.Name: field required",
		},
		{
			name:    "unknown tool choice",
			mutate:  func(r *MessagesRequest) { r.ToolChoice = &ToolChoice{Type: "sometimes"} },
			wantErr: "ToolChoice.Type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			var errResp *ErrorResponse
			require.True(t, errors.As(err, &errResp))
			assert.Equal(t, ErrorTypeInvalidRequest, errResp.Err.Type)
			assert.Contains(t, errResp.Err.Message, tt.wantErr)
		})
	}
}

func TestErrorResponse_JSON(t *testing.T) {
	resp := NewError(ErrorTypeRateLimit, "slow down")
	resp.UpstreamStatus = 429

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"},"upstream_status":429}`,
		string(data))
}

func TestErrorTypeForStatus(t *testing.T) {
	assert.Equal(t, ErrorTypeInvalidRequest, ErrorTypeForStatus(400))
	assert.Equal(t, ErrorTypeAuthentication, ErrorTypeForStatus(401))
	assert.Equal(t, ErrorTypeNotFound, ErrorTypeForStatus(404))
	assert.Equal(t, ErrorTypeRateLimit, ErrorTypeForStatus(429))
	assert.Equal(t, ErrorTypeOverloaded, ErrorTypeForStatus(503))
	assert.Equal(t, ErrorTypeAPI, ErrorTypeForStatus(500))
}
