package openaichat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/sony/gobreaker"

	"github.com/florianilch/toolbridge/internal/claudeadapter"
	"github.com/florianilch/toolbridge/internal/claudestream"
	"github.com/florianilch/toolbridge/internal/metrics"
	"github.com/florianilch/toolbridge/internal/toolify"
)

// openStream is a backend stream whose first chunk has been read.
type openStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	// primed is false when the backend finished without sending a chunk.
	primed bool
}

// ProcessStreamingRequest opens the backend stream and waits for its first
// chunk, so that backend errors are returned before any output is produced.
func (a *Adapter) ProcessStreamingRequest(ctx context.Context, req claudeadapter.MessagesRequest) (*claudeadapter.Stream, error) {
	trigger := a.newTrigger()
	mapped, err := a.mapRequest(&req, trigger)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancelCause(ctx)
	opened, err := a.open(streamCtx, cancel, mapped.params)
	if err != nil {
		cancel(nil)
		slog.WarnContext(ctx, "upstream request failed", "model", mapped.model, "error", err)
		return nil, toErrorResponse(err)
	}

	return &claudeadapter.Stream{
		Options: claudestream.Options{
			MessageID:       a.newMessageID(),
			Model:           req.Model,
			InputTokens:     a.inputTokens(mapped),
			TokenMultiplier: a.cfg.TokenMultiplier,
			Counter:         a.counter,
		},
		UpstreamModel: mapped.model,
		Events:        a.events(streamCtx, cancel, opened, trigger),
	}, nil
}

func (a *Adapter) open(ctx context.Context, cancel context.CancelCauseFunc, params openai.ChatCompletionNewParams) (*openStream, error) {
	start := time.Now()
	attempt := func() (any, error) {
		timer := armTimeout(cancel, a.cfg.FirstChunkTimeout, errFirstChunkTimeout)
		defer timer.Stop()

		stream := a.client.Chat.Completions.NewStreaming(ctx, params)
		if stream.Next() {
			return &openStream{stream: stream, primed: true}, nil
		}
		if err := stream.Err(); err != nil {
			_ = stream.Close()
			return nil, causeOf(ctx, err)
		}
		return &openStream{stream: stream}, nil
	}

	var (
		result any
		err    error
	)
	if a.breaker != nil {
		result, err = a.breaker.Execute(attempt)
	} else {
		result, err = attempt()
	}

	metrics.UpstreamRequestsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	metrics.UpstreamFirstChunk.Observe(time.Since(start).Seconds())
	return result.(*openStream), nil
}

// events feeds backend deltas through a trigger parser. The idle watchdog is
// re-armed on every chunk; when it fires the stream context is cancelled and
// the sequence ends with the watchdog error.
func (a *Adapter) events(ctx context.Context, cancel context.CancelCauseFunc, opened *openStream, trigger string) func(func(toolify.Event, error) bool) {
	return func(yield func(toolify.Event, error) bool) {
		stream := opened.stream
		idle := armTimeout(cancel, a.cfg.IdleTimeout, errIdleTimeout)
		defer func() {
			idle.Stop()
			_ = stream.Close()
			cancel(nil)
		}()

		parser := toolify.NewParser(trigger, toolify.WithDiscardHandler(func(fragment string, err error) {
			metrics.MalformedInvocationsTotal.Inc()
			slog.WarnContext(ctx, "discarding malformed tool invocation", "bytes", len(fragment), "error", err)
		}))

		drain := func() bool {
			for _, ev := range parser.ConsumeEvents() {
				if !yield(ev, nil) {
					return false
				}
			}
			return true
		}

		if opened.primed {
			a.feed(parser, stream.Current())
			if !drain() {
				return
			}
		}
		for stream.Next() {
			idle.Reset()
			a.feed(parser, stream.Current())
			if !drain() {
				return
			}
		}

		if err := stream.Err(); err != nil {
			err = causeOf(ctx, err)
			slog.WarnContext(ctx, "upstream stream failed", "error", err)
			yield(toolify.Event{}, errors.New(toErrorResponse(err).Error()))
			return
		}

		parser.Finish()
		drain()
	}
}

func (a *Adapter) feed(parser *toolify.Parser, chunk openai.ChatCompletionChunk) {
	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		if a.cfg.EmitThinking {
			if r := reasoningContent(choice.Delta.RawJSON()); r != "" {
				parser.FeedThinking(r)
			}
		}
		if choice.Delta.Content != "" {
			parser.Feed(choice.Delta.Content)
		}
	}
}

// watchdog cancels a stream context with a cause after a period of
// inactivity.
type watchdog struct {
	timer *time.Timer
	d     time.Duration
}

func armTimeout(cancel context.CancelCauseFunc, d time.Duration, cause error) *watchdog {
	w := &watchdog{d: d}
	if d > 0 {
		w.timer = time.AfterFunc(d, func() { cancel(cause) })
	}
	return w
}

func (w *watchdog) Reset() {
	if w.timer != nil {
		w.timer.Reset(w.d)
	}
}

func (w *watchdog) Stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// causeOf prefers the watchdog cause over the context error it produced.
func causeOf(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

func outcome(err error) string {
	var apiErr *openai.Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &apiErr):
		return "http_error"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, errFirstChunkTimeout):
		return "timeout"
	default:
		return "transport_error"
	}
}
