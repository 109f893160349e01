package openaichat

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"

	"github.com/florianilch/toolbridge/internal/claudeadapter"
)

var (
	errFirstChunkTimeout = errors.New("upstream did not respond in time")
	errIdleTimeout       = errors.New("upstream stream stalled")
)

// toErrorResponse converts a backend failure into a Claude error envelope.
func toErrorResponse(err error) *claudeadapter.ErrorResponse {
	var errResp *claudeadapter.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		resp := claudeadapter.NewError(
			claudeadapter.ErrorTypeForStatus(apiErr.StatusCode),
			fmt.Sprintf("upstream returned %d: %s", apiErr.StatusCode, upstreamMessage(apiErr)),
		)
		resp.UpstreamStatus = apiErr.StatusCode
		return resp
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return claudeadapter.NewError(claudeadapter.ErrorTypeOverloaded, "upstream unavailable: circuit open")
	case errors.Is(err, errFirstChunkTimeout), errors.Is(err, errIdleTimeout), errors.Is(err, context.DeadlineExceeded):
		return claudeadapter.NewError(claudeadapter.ErrorTypeAPI, "upstream request timed out")
	default:
		return claudeadapter.NewError(claudeadapter.ErrorTypeAPI, "upstream request failed: "+err.Error())
	}
}

func upstreamMessage(apiErr *openai.Error) string {
	if apiErr.Message != "" {
		return apiErr.Message
	}
	raw := apiErr.RawJSON()
	for _, path := range []string{"error.message", "message", "error"} {
		if r := gjson.Get(raw, path); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	if raw != "" {
		return raw
	}
	return apiErr.Error()
}

// isBackendFailure reports whether err should count against the breaker.
// Client errors and cancellations are not the backend's fault.
func isBackendFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	return true
}
