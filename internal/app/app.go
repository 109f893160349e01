package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/florianilch/toolbridge/internal/proxy"
	"github.com/florianilch/toolbridge/internal/tokensource"
	"github.com/florianilch/toolbridge/internal/usage"
)

const shutdownTimeout = 10 * time.Second

// App orchestrates the lifecycle of the proxy server and related services.
type App struct {
	cfg    Config
	health *Health
	proxy  *proxy.Proxy
	usage  *usage.Store
}

// Option configures an App.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	store     tokensource.Store
}

// WithTransport sets the base transport for backend and token requests.
func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// WithCredentialStore replaces the OS keyring used by the keyring credential.
func WithCredentialStore(store tokensource.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// New creates a new App instance.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	o := options{
		transport: http.DefaultTransport,
		store:     tokensource.NewKeyringStore(tokensource.KeyringService, tokensource.KeyringUser),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ts, err := newTokenSource(ctx, cfg.Upstream, o)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		health: NewHealth(),
	}

	if cfg.Usage.Database != "" {
		a.usage, err = usage.Open(ctx, cfg.Usage.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open usage ledger: %w", err)
		}
	}

	proxyOpts := []proxy.Option{
		proxy.WithTransport(o.transport),
		proxy.WithUpstream(cfg.upstream()),
		proxy.WithStream(cfg.stream()),
		proxy.WithMaxRequestBytes(cfg.Server.MaxRequestBytes),
		proxy.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout),
		proxy.WithClientAPIKey(cfg.Server.ClientAPIKey),
		proxy.WithModels(cfg.Server.Models),
		proxy.WithRequestLogDir(cfg.Log.RequestDir),
		proxy.WithMetrics(cfg.Server.Metrics),
	}
	if a.usage != nil {
		proxyOpts = append(proxyOpts, proxy.WithUsageRecorder(a.usage))
	}

	a.proxy, err = proxy.New(ts, a.health, proxyOpts...)
	if err != nil {
		if a.usage != nil {
			_ = a.usage.Close(ctx)
		}
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return a, nil
}

func newTokenSource(ctx context.Context, cfg UpstreamConfig, o options) (oauth2.TokenSource, error) {
	switch cfg.Credential {
	case CredentialConfig:
		return tokensource.Static(cfg.APIKey), nil
	case CredentialKeyring:
		return tokensource.FromStore(o.store), nil
	case CredentialClientCredentials:
		return tokensource.NewClientCredentials(ctx, tokensource.ClientCredentialsConfig{
			TokenURL:     cfg.OAuth.TokenURL,
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			Scopes:       cfg.OAuth.Scopes,
		}, tokensource.WithTransport(o.transport)), nil
	case CredentialNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown credential type %q", cfg.Credential)
	}
}

// Health returns the readiness state served on /readyz.
func (a *App) Health() *Health {
	return a.health
}

// Start starts all services and blocks until ctx is cancelled or a service fails.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error
	if a.usage != nil {
		shutdownFuncs = append(shutdownFuncs, a.usage.Close)
	}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting proxy server")
	proxyErrCh, err := a.proxy.Start(gCtx, a.cfg.Server.ListenAddr)
	if err != nil {
		if a.usage != nil {
			_ = a.usage.Close(context.Background())
		}
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)
	a.health.SetReady(true)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runtimeErr := g.Wait()

	a.health.SetReady(false)
	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: stop in reverse start order so the server drains
	// before the ledger flushes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// Addr returns the proxy's listening address once started.
func (a *App) Addr() string {
	return a.proxy.Addr()
}
