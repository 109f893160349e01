// Package proxy serves the Claude Messages API on top of an OpenAI-compatible
// chat backend.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/toolbridge/internal/claudeadapter"
	"github.com/florianilch/toolbridge/internal/claudeadapter/openaichat"
	"github.com/florianilch/toolbridge/internal/metrics"
	"github.com/florianilch/toolbridge/internal/observability/middleware"
	"github.com/florianilch/toolbridge/internal/tokensource"
)

const defaultMaxRequestBytes = 32 << 20

// Proxy is the HTTP server of the gateway.
type Proxy struct {
	handler http.Handler
	cfg     config

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

type config struct {
	transport         http.RoundTripper
	upstream          openaichat.Config
	stream            StreamConfig
	maxRequestBytes   int64
	clientAPIKey      string
	models            []string
	requestLogDir     string
	metrics           bool
	usage             UsageRecorder
	readHeaderTimeout time.Duration
	logger            *slog.Logger
}

// Option configures a Proxy.
type Option func(*config)

// WithTransport sets the base transport for backend requests.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *config) {
		c.transport = transport
	}
}

// WithUpstream sets the backend adapter configuration.
func WithUpstream(upstream openaichat.Config) Option {
	return func(c *config) {
		c.upstream = upstream
	}
}

// WithStream sets the streaming configuration.
func WithStream(stream StreamConfig) Option {
	return func(c *config) {
		c.stream = stream
	}
}

// WithMaxRequestBytes limits request body size.
func WithMaxRequestBytes(n int64) Option {
	return func(c *config) {
		c.maxRequestBytes = n
	}
}

// WithClientAPIKey requires clients to present key.
func WithClientAPIKey(key string) Option {
	return func(c *config) {
		c.clientAPIKey = key
	}
}

// WithModels sets the model ids listed by /v1/models.
func WithModels(ids []string) Option {
	return func(c *config) {
		c.models = ids
	}
}

// WithRequestLogDir enables per-request log files in dir.
func WithRequestLogDir(dir string) Option {
	return func(c *config) {
		c.requestLogDir = dir
	}
}

// WithMetrics toggles the /metrics endpoint.
func WithMetrics(enabled bool) Option {
	return func(c *config) {
		c.metrics = enabled
	}
}

// WithUsageRecorder sets the recorder receiving per-request usage.
func WithUsageRecorder(recorder UsageRecorder) Option {
	return func(c *config) {
		c.usage = recorder
	}
}

// WithReadHeaderTimeout bounds reading request headers.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(c *config) {
		c.readHeaderTimeout = d
	}
}

// WithLogger sets the access logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// New creates a proxy authorizing backend requests with tokens from ts.
// A nil ts sends backend requests without credentials.
func New(ts oauth2.TokenSource, health ReadinessChecker, opts ...Option) (*Proxy, error) {
	cfg := config{
		transport: http.DefaultTransport,
		upstream: openaichat.Config{
			BaseURL:           "https://api.openai.com/v1",
			FirstChunkTimeout: 120 * time.Second,
			IdleTimeout:       60 * time.Second,
			TokenMultiplier:   1,
		},
		stream:            DefaultStreamConfig(),
		maxRequestBytes:   defaultMaxRequestBytes,
		metrics:           true,
		readHeaderTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if health == nil {
		return nil, errors.New("readiness checker is required")
	}

	adapter, err := openaichat.NewAdapter(tokensource.Transport(ts, cfg.transport), cfg.upstream)
	if err != nil {
		return nil, fmt.Errorf("creating backend adapter: %w", err)
	}

	return &Proxy{
		handler: newHandler(adapter, health, cfg),
		cfg:     cfg,
	}, nil
}

func newHandler(adapter claudeadapter.CreateMessageAdapter, health ReadinessChecker, cfg config) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/messages", &CreateMessageHandler{
		Adapter: adapter,
		Stream:  cfg.stream,
		Usage:   cfg.usage,
	})
	mux.Handle("POST /v1/messages/count_tokens", countTokensHandler(adapter))
	mux.Handle("GET /v1/models", modelsHandler(cfg.models))

	mux.Handle("GET /healthz", healthHandler())
	mux.Handle("GET /livez", livenessHandler())
	mux.Handle("GET /readyz", readinessHandler(health))
	if cfg.metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSONClaudeError(r.Context(), w, claudeadapter.NewError(
			claudeadapter.ErrorTypeNotFound,
			fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path),
		))
	})

	return applyMiddlewares(mux,
		Recovery,
		middleware.RequestID,
		middleware.TraceContextExtraction,
		middleware.RequestLogScope(cfg.requestLogDir),
		middleware.Logging(cfg.logger),
		middleware.RequestIDPropagation,
		CORS,
		RequestSizeLimit(cfg.maxRequestBytes),
		ClientAuth(cfg.clientAPIKey),
	)
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Start listens on addr and serves in the background. Runtime errors are
// delivered on the returned channel, which is closed when serving stops.
func (p *Proxy) Start(ctx context.Context, addr string) (<-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           p,
		ReadHeaderTimeout: p.cfg.readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	p.mu.Lock()
	p.server = server
	p.listener = ln
	p.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.InfoContext(ctx, "proxy listening", "addr", ln.Addr().String())
	return errCh, nil
}

// Addr returns the listening address, or "" before Start.
func (p *Proxy) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for active requests.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	server := p.server
	p.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
