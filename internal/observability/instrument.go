package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const instrumentationName = "github.com/florianilch/toolbridge"

// Config configures process-wide logging.
type Config struct {
	Level  slog.Level
	Format string // text|json
	// File redirects log output to a rotating file instead of stdout.
	File string
	// Exporter additionally ships logs through OpenTelemetry
	// (none|stdout|otlp-http|otlp-grpc).
	Exporter string
	Disabled bool
}

// Instrument installs the default logger and the global trace propagator.
// The returned function flushes buffered output and must be called on exit.
func Instrument(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Disabled {
		slog.SetDefault(slog.New(slog.DiscardHandler))
		return func(context.Context) error { return nil }, nil
	}

	var (
		out       io.Writer = os.Stdout
		shutdowns []func(context.Context) error
	)
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			Compress:   true,
		}
		out = file
		shutdowns = append(shutdowns, func(context.Context) error { return file.Close() })
	}

	handler, err := newStdoutHandler(cfg.Level, cfg.Format, out)
	if err != nil {
		return nil, err
	}

	exporter, err := newExporter(ctx, cfg.Exporter)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(
			minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(cfg.Level)),
		))
		shutdowns = append(shutdowns, provider.Shutdown)
		handler = newFanoutHandler(handler, otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider)))
	}

	slog.SetDefault(slog.New(newCorrelationHandler(newRequestLogHandler(handler))))

	return func(ctx context.Context) error {
		var firstErr error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			if err := shutdowns[i](ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}, nil
}

// newStdoutHandler creates a handler for human-readable logs.
func newStdoutHandler(level slog.Level, logFormat string, w io.Writer) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text)", logFormat)
	}

	return handler, nil
}

func newExporter(ctx context.Context, kind string) (sdklog.Exporter, error) {
	switch strings.ToLower(kind) {
	case "", "none":
		return nil, nil
	case "stdout":
		return stdoutlog.New()
	case "otlp-http":
		return otlploghttp.New(ctx)
	case "otlp-grpc":
		return otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported log exporter %q (expected: none, stdout, otlp-http, otlp-grpc)", kind)
	}
}

func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
