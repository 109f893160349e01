package middleware

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/florianilch/toolbridge/internal/observability"
)

// RequestLogScope opens a per-request log file in dir for the lifetime of
// the request. Records logged with the request context are mirrored into
// it. An empty dir disables request logs.
func RequestLogScope(dir string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if dir == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := observability.RequestID(r.Context())
			if requestID == "" {
				requestID = uuid.NewString()
			}

			requestLog := observability.OpenRequestLog(dir, requestID)
			defer func() {
				if err := requestLog.Close(); err != nil {
					slog.WarnContext(r.Context(), "failed to close request log", "error", err)
				}
			}()

			ctx := observability.WithRequestLog(r.Context(), requestLog)
			slog.DebugContext(ctx, "request started", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
