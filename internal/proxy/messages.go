package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/florianilch/toolbridge/internal/claudeadapter"
	"github.com/florianilch/toolbridge/internal/claudestream"
	"github.com/florianilch/toolbridge/internal/metrics"
	"github.com/florianilch/toolbridge/internal/observability"
	"github.com/florianilch/toolbridge/internal/sse"
	"github.com/florianilch/toolbridge/internal/usage"
)

// StreamConfig configures streamed responses.
type StreamConfig struct {
	// AggregationInterval is how long text is buffered before it is sent.
	AggregationInterval time.Duration
	// BufferFrames is the number of frames queued for a slow client.
	BufferFrames int
	// WriteTimeout bounds each write to the client connection.
	WriteTimeout time.Duration
	Writer       sse.Policy
}

// DefaultStreamConfig returns the default streaming settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		AggregationInterval: 35 * time.Millisecond,
		BufferFrames:        64,
		WriteTimeout:        30 * time.Second,
		Writer:              sse.DefaultPolicy(),
	}
}

// UsageRecorder receives the outcome of every messages request.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record)
}

// CreateMessageHandler handles Claude Messages API requests.
type CreateMessageHandler struct {
	Adapter claudeadapter.CreateMessageAdapter
	Stream  StreamConfig
	Usage   UsageRecorder
}

// Compile-time check to ensure CreateMessageHandler implements http.Handler
var _ http.Handler = (*CreateMessageHandler)(nil)

// ServeHTTP implements http.Handler interface for streaming or non-streaming requests.
func (h *CreateMessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, errResp := decodeMessagesRequest(ctx, r)
	if errResp == nil {
		if err := req.Validate(); err != nil && !errors.As(err, &errResp) {
			errResp = claudeadapter.NewError(claudeadapter.ErrorTypeInvalidRequest, err.Error())
		}
	}
	if errResp != nil {
		metrics.RequestsTotal.WithLabelValues("client_error").Inc()
		writeJSONClaudeError(ctx, w, errResp)
		return
	}

	rec := usage.Record{
		RequestID: observability.RequestID(ctx),
		Model:     req.Model,
		Stream:    req.Stream,
		StartedAt: start,
	}

	var status string
	if req.Stream {
		status = h.streamResponse(ctx, w, req, &rec)
	} else {
		status = h.writeResponse(ctx, w, req, &rec)
	}

	rec.Duration = time.Since(start)
	rec.Failed = status != "ok"
	metrics.RequestsTotal.WithLabelValues(status).Inc()
	metrics.RequestDuration.WithLabelValues(strconv.FormatBool(req.Stream)).Observe(rec.Duration.Seconds())
	if h.Usage != nil {
		h.Usage.Record(ctx, rec)
	}
}

// writeResponse handles non-streaming requests.
func (h *CreateMessageHandler) writeResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req claudeadapter.MessagesRequest,
	rec *usage.Record,
) string {
	msg, err := h.Adapter.ProcessRequest(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "request failed", "error", err)
		writeError(ctx, w, err)
		return requestStatus(err)
	}

	rec.InputTokens = msg.Usage.InputTokens
	rec.OutputTokens = msg.Usage.OutputTokens
	if msg.StopReason != nil {
		rec.StopReason = string(*msg.StopReason)
	}
	for _, block := range msg.Content {
		if _, ok := block.(*claudestream.ToolUseBlock); ok {
			rec.ToolCalls++
		}
	}

	writeJSON(ctx, w, msg, http.StatusOK)
	return "ok"
}

// streamResponse streams the response as Claude SSE frames.
func (h *CreateMessageHandler) streamResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req claudeadapter.MessagesRequest,
	rec *usage.Record,
) string {
	stream, err := h.Adapter.ProcessStreamingRequest(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "streaming request failed", "error", err)
		writeError(ctx, w, err)
		return requestStatus(err)
	}
	rec.UpstreamModel = stream.UpstreamModel

	sink, err := sse.NewStreamSink(w, h.Stream.BufferFrames, h.Stream.WriteTimeout)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		// Release the backend call.
		for range stream.Events {
			break
		}
		writeError(ctx, w, err)
		return "stream_error"
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	writer := sse.NewWriter(ctx, sink, h.Stream.Writer)
	opts := stream.Options
	opts.AggregationInterval = h.Stream.AggregationInterval

	summary := claudestream.NewTranslator(ctx, writer, opts).Pump(stream.Events)

	if err := writer.Close(); err != nil {
		slog.DebugContext(ctx, "stream closed with undelivered frames", "error", err)
	}

	rec.InputTokens = summary.InputTokens
	rec.OutputTokens = summary.OutputTokens
	rec.StopReason = string(summary.StopReason)
	rec.ToolCalls = summary.ToolCalls

	switch {
	case summary.Failed, summary.DeliveryFailed:
		return "stream_error"
	default:
		return "ok"
	}
}

func requestStatus(err error) string {
	var errResp *claudeadapter.ErrorResponse
	if errors.As(err, &errResp) && errResp.Err.Type == claudeadapter.ErrorTypeInvalidRequest {
		return "client_error"
	}
	return "upstream_error"
}
