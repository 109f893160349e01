package observability

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogHandler_MirrorsRecords(t *testing.T) {
	var base bytes.Buffer
	logger := slog.New(newRequestLogHandler(slog.NewTextHandler(&base, &slog.HandlerOptions{Level: slog.LevelWarn})))

	dir := t.TempDir()
	requestLog := OpenRequestLog(dir, "req-1")
	ctx := WithRequestLog(context.Background(), requestLog)

	logger.With("component", "writer").DebugContext(ctx, "frame sent", "event", "message_start")
	logger.WarnContext(ctx, "retrying")
	logger.DebugContext(context.Background(), "unscoped")
	require.NoError(t, requestLog.Close())

	data, err := os.ReadFile(filepath.Join(dir, "req-1.log"))
	require.NoError(t, err)
	file := string(data)
	assert.Contains(t, file, `"msg":"frame sent"`)
	assert.Contains(t, file, `"component":"writer"`)
	assert.Contains(t, file, `"msg":"retrying"`)
	assert.NotContains(t, file, "unscoped")

	assert.NotContains(t, base.String(), "frame sent")
	assert.Contains(t, base.String(), "retrying")
	assert.NotContains(t, base.String(), "unscoped")
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "abc-123_x", sanitizeFileName("abc-123_x"))
	assert.Equal(t, "______etc_passwd", sanitizeFileName("../../etc/passwd"))
	assert.Equal(t, "request", sanitizeFileName(""))
	assert.Len(t, sanitizeFileName(string(bytes.Repeat([]byte("a"), 300))), 128)
}

func TestCorrelationHandler_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(WithRequestID(context.Background(), "req-42"), "hello")

	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
}

func TestFanoutHandler(t *testing.T) {
	var info, debug bytes.Buffer
	logger := slog.New(newFanoutHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	))

	logger.Debug("details")
	logger.Info("summary")

	assert.NotContains(t, info.String(), "details")
	assert.Contains(t, info.String(), "summary")
	assert.Contains(t, debug.String(), "details")
	assert.Contains(t, debug.String(), "summary")
}

func TestInstrument_RejectsUnknownSettings(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, err := Instrument(context.Background(), Config{Format: "xml"})
	assert.ErrorContains(t, err, "unsupported log format")

	_, err = Instrument(context.Background(), Config{Format: "text", Exporter: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unsupported log exporter")
}

func TestInstrument_Disabled(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	shutdown, err := Instrument(context.Background(), Config{Disabled: true})
	require.NoError(t, err)
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelError))
	assert.NoError(t, shutdown(context.Background()))
}
