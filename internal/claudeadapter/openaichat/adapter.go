package openaichat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/sony/gobreaker"

	"github.com/florianilch/toolbridge/internal/claudeadapter"
	"github.com/florianilch/toolbridge/internal/claudestream"
	"github.com/florianilch/toolbridge/internal/tokencount"
	"github.com/florianilch/toolbridge/internal/toolify"
)

// Config configures the chat backend adapter.
type Config struct {
	// BaseURL is the OpenAI-compatible API root, e.g. https://api.openai.com/v1.
	BaseURL string
	// ModelOverride replaces the client's model when set.
	ModelOverride string
	// Temperature and TopP apply when the client leaves them unset.
	// Zero leaves the backend default.
	Temperature float64
	TopP        float64
	// FirstChunkTimeout bounds the wait for the first streamed chunk.
	FirstChunkTimeout time.Duration
	// IdleTimeout bounds the gap between streamed chunks.
	IdleTimeout time.Duration
	// TokenMultiplier scales output token estimates. Defaults to 1.
	TokenMultiplier float64
	// EmitThinking forwards backend reasoning output as thinking blocks.
	EmitThinking bool
	Breaker      BreakerConfig
}

// BreakerConfig configures the circuit breaker guarding the backend.
type BreakerConfig struct {
	// MaxRequests is the number of probe requests allowed while half-open.
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts while closed.
	Interval time.Duration
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// FailureRatio of backend failures trips the circuit once MinRequests
	// have been seen.
	FailureRatio float64
	// MinRequests is the sample size before the ratio is evaluated.
	// Zero disables the breaker.
	MinRequests uint32
}

// Adapter implements the Claude Messages API on a chat completions backend.
type Adapter struct {
	client  *openai.Client
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	counter *tokencount.Counter

	newTrigger   func() string
	newMessageID func() string
}

// Compile-time check that Adapter implements CreateMessageAdapter
var _ claudeadapter.CreateMessageAdapter = (*Adapter)(nil)

// NewAdapter creates an adapter sending backend requests through transport.
func NewAdapter(transport http.RoundTripper, cfg Config) (*Adapter, error) {
	client, err := newClient(cfg.BaseURL, transport)
	if err != nil {
		return nil, err
	}
	if cfg.TokenMultiplier <= 0 {
		cfg.TokenMultiplier = 1
	}

	return &Adapter{
		client:       client,
		cfg:          cfg,
		breaker:      newBreaker(cfg.Breaker),
		counter:      tokencount.Default(),
		newTrigger:   toolify.NewTrigger,
		newMessageID: claudestream.NewMessageID,
	}, nil
}

func newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.MinRequests == 0 {
		return nil
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return !isBackendFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// ProcessRequest runs the streaming pipeline and assembles the complete
// message.
func (a *Adapter) ProcessRequest(ctx context.Context, req claudeadapter.MessagesRequest) (*claudestream.Message, error) {
	stream, err := a.ProcessStreamingRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	asm := claudestream.NewAssembler()
	claudestream.NewTranslator(ctx, asm, stream.Options).Pump(stream.Events)

	msg, err := asm.Message()
	if err != nil {
		var streamErr *claudestream.StreamError
		if errors.As(err, &streamErr) {
			return nil, claudeadapter.NewError(claudeadapter.ErrorTypeAPI, streamErr.Message)
		}
		return nil, err
	}
	return msg, nil
}

// CountTokens estimates the input tokens of the backend request, including
// the injected tool prompt.
func (a *Adapter) CountTokens(_ context.Context, req claudeadapter.MessagesRequest) (int, error) {
	mapped, err := a.mapRequest(&req, a.newTrigger())
	if err != nil {
		return 0, err
	}
	return a.inputTokens(mapped), nil
}

func (a *Adapter) inputTokens(m *mappedRequest) int {
	total := requestOverhead
	for _, text := range m.texts {
		total += a.counter.Count(text)
	}
	return total
}
