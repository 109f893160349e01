package observability

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RequestLog is a log file holding every record logged for one request.
type RequestLog struct {
	file    *lumberjack.Logger
	handler slog.Handler
}

type requestLogKey struct{}

// OpenRequestLog creates the log file <dir>/<requestID>.log. The file is
// created on the first record.
func OpenRequestLog(dir, requestID string) *RequestLog {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, sanitizeFileName(requestID)+".log"),
		MaxSize:    20, // megabytes
		MaxBackups: 1,
	}
	return &RequestLog{
		file:    file,
		handler: slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
}

// Close closes the underlying file.
func (l *RequestLog) Close() error {
	return l.file.Close()
}

// WithRequestLog returns a context whose log records are mirrored into l.
func WithRequestLog(ctx context.Context, l *RequestLog) context.Context {
	return context.WithValue(ctx, requestLogKey{}, l)
}

func requestLogFrom(ctx context.Context) *RequestLog {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(requestLogKey{}).(*RequestLog)
	return l
}

// sanitizeFileName keeps client-supplied request ids from escaping dir.
func sanitizeFileName(id string) string {
	if len(id) > 128 {
		id = id[:128]
	}
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	if mapped == "" {
		return "request"
	}
	return mapped
}

// requestLogHandler mirrors records into the request log found in the
// record's context, at debug level regardless of the base level.
type requestLogHandler struct {
	base slog.Handler
	// ops replays WithAttrs/WithGroup calls onto the request log handler,
	// which is only known at Handle time.
	ops []func(slog.Handler) slog.Handler
}

func newRequestLogHandler(base slog.Handler) *requestLogHandler {
	return &requestLogHandler{base: base}
}

func (h *requestLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if requestLogFrom(ctx) != nil {
		return true
	}
	return h.base.Enabled(ctx, level)
}

func (h *requestLogHandler) Handle(ctx context.Context, record slog.Record) error {
	if l := requestLogFrom(ctx); l != nil {
		handler := l.handler
		for _, op := range h.ops {
			handler = op(handler)
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	if !h.base.Enabled(ctx, record.Level) {
		return nil
	}
	return h.base.Handle(ctx, record)
}

func (h *requestLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(h.base.WithAttrs(attrs), func(handler slog.Handler) slog.Handler {
		return handler.WithAttrs(attrs)
	})
}

func (h *requestLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(h.base.WithGroup(name), func(handler slog.Handler) slog.Handler {
		return handler.WithGroup(name)
	})
}

func (h *requestLogHandler) with(base slog.Handler, op func(slog.Handler) slog.Handler) *requestLogHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &requestLogHandler{base: base, ops: append(ops, op)}
}
