package openaichat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"

	"github.com/florianilch/toolbridge/internal/claudeadapter"
)

func TestToErrorResponse(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType string
		wantMsg  string
	}{
		{"api error", &openai.Error{StatusCode: 401, Message: "bad key"}, claudeadapter.ErrorTypeAuthentication, "upstream returned 401: bad key"},
		{"circuit open", gobreaker.ErrOpenState, claudeadapter.ErrorTypeOverloaded, "circuit open"},
		{"idle", fmt.Errorf("read: %w", errIdleTimeout), claudeadapter.ErrorTypeAPI, "timed out"},
		{"transport", errors.New("connection refused"), claudeadapter.ErrorTypeAPI, "connection refused"},
		{"passthrough", claudeadapter.NewError(claudeadapter.ErrorTypeInvalidRequest, "bad"), claudeadapter.ErrorTypeInvalidRequest, "bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := toErrorResponse(tt.err)
			assert.Equal(t, "error", resp.Type)
			assert.Equal(t, tt.wantType, resp.Err.Type)
			assert.Contains(t, resp.Err.Message, tt.wantMsg)
		})
	}
}

func TestIsBackendFailure(t *testing.T) {
	assert.False(t, isBackendFailure(nil))
	assert.False(t, isBackendFailure(context.Canceled))
	assert.False(t, isBackendFailure(&openai.Error{StatusCode: 400}))
	assert.True(t, isBackendFailure(&openai.Error{StatusCode: 429}))
	assert.True(t, isBackendFailure(&openai.Error{StatusCode: 502}))
	assert.True(t, isBackendFailure(errFirstChunkTimeout))
}
