package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/florianilch/toolbridge/internal/claudeadapter"
)

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeJSONClaudeError writes a Claude API error envelope with the HTTP
// status matching its error type.
func writeJSONClaudeError(ctx context.Context, w http.ResponseWriter, errResp *claudeadapter.ErrorResponse) {
	var status int
	switch errResp.Err.Type {
	case claudeadapter.ErrorTypeInvalidRequest:
		status = http.StatusBadRequest
	case claudeadapter.ErrorTypeAuthentication:
		status = http.StatusUnauthorized
	case claudeadapter.ErrorTypePermission:
		status = http.StatusForbidden
	case claudeadapter.ErrorTypeNotFound:
		status = http.StatusNotFound
	case claudeadapter.ErrorTypeRequestTooLarge:
		status = http.StatusRequestEntityTooLarge
	case claudeadapter.ErrorTypeRateLimit:
		status = http.StatusTooManyRequests
	case claudeadapter.ErrorTypeOverloaded:
		status = 529
	case claudeadapter.ErrorTypeAPI:
		// Failures reported by the backend are a gateway problem.
		if errResp.UpstreamStatus != 0 {
			status = http.StatusBadGateway
		} else {
			status = http.StatusInternalServerError
		}
	default:
		status = http.StatusInternalServerError
	}

	writeJSON(ctx, w, errResp, status)
}

// writeError writes err as a Claude error envelope, falling back to a
// generic api_error for errors of other types.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var errResp *claudeadapter.ErrorResponse
	if errors.As(err, &errResp) {
		writeJSONClaudeError(ctx, w, errResp)
		return
	}
	writeJSONClaudeError(ctx, w, claudeadapter.NewError(
		claudeadapter.ErrorTypeAPI,
		http.StatusText(http.StatusInternalServerError),
	))
}

// decodeMessagesRequest decodes a size-limited request body.
func decodeMessagesRequest(ctx context.Context, r *http.Request) (claudeadapter.MessagesRequest, *claudeadapter.ErrorResponse) {
	var req claudeadapter.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
			return req, claudeadapter.NewError(claudeadapter.ErrorTypeRequestTooLarge,
				http.StatusText(http.StatusRequestEntityTooLarge))
		}
		slog.WarnContext(ctx, "failed to decode request", "error", err)
		return req, claudeadapter.NewError(claudeadapter.ErrorTypeInvalidRequest, "invalid JSON body: "+err.Error())
	}
	return req, nil
}
