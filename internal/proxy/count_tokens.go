package proxy

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/florianilch/toolbridge/internal/claudeadapter"
)

// countTokensResponse is the body of a count_tokens response.
type countTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// countTokensHandler estimates the input tokens of a messages request as
// sent to the backend, including the injected tool prompt.
func countTokensHandler(adapter claudeadapter.CreateMessageAdapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		req, errResp := decodeMessagesRequest(ctx, r)
		if errResp != nil {
			writeJSONClaudeError(ctx, w, errResp)
			return
		}

		// max_tokens is not part of a count request.
		if req.MaxTokens == nil {
			one := 1
			req.MaxTokens = &one
		}
		if err := req.Validate(); err != nil {
			if !errors.As(err, &errResp) {
				errResp = claudeadapter.NewError(claudeadapter.ErrorTypeInvalidRequest, err.Error())
			}
			writeJSONClaudeError(ctx, w, errResp)
			return
		}

		n, err := adapter.CountTokens(ctx, req)
		if err != nil {
			slog.WarnContext(ctx, "token count failed", "error", err)
			writeError(ctx, w, err)
			return
		}

		writeJSON(ctx, w, countTokensResponse{InputTokens: n}, http.StatusOK)
	}
}
