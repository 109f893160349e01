package tokensource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoCredential is returned when a store holds no key.
var ErrNoCredential = errors.New("no credential stored")

// Static returns a token source that always yields key as a bearer token.
func Static(key string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: key, TokenType: "Bearer"})
}

// Store persists a single API key.
type Store interface {
	Read(ctx context.Context) (string, error)
	// Write stores key. An empty key clears the store.
	Write(ctx context.Context, key string) error
}

// FromStore returns a token source reading the key from store on first use.
// Tokens without expiry are reused for the life of the source.
func FromStore(store Store) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &storeSource{store: store})
}

type storeSource struct {
	store Store
}

func (s *storeSource) Token() (*oauth2.Token, error) {
	key, err := s.store.Read(context.Background())
	if err != nil {
		return nil, fmt.Errorf("reading stored key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrNoCredential
	}
	return &oauth2.Token{AccessToken: key, TokenType: "Bearer"}, nil
}

// ClientCredentialsConfig configures the OAuth2 client credentials grant.
type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Option configures token source construction.
type Option func(*options)

type options struct {
	transport http.RoundTripper
}

// WithTransport sets the transport used for token endpoint requests.
func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// NewClientCredentials returns a token source running the client credentials
// grant, refreshing tokens before they expire. ctx bounds token endpoint
// requests for the life of the source.
func NewClientCredentials(ctx context.Context, cfg ClientCredentialsConfig, opts ...Option) oauth2.TokenSource {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: o.transport})
	}

	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return conf.TokenSource(ctx)
}

// Transport returns a round tripper authorizing requests with tokens from
// ts. A nil ts returns base unchanged.
func Transport(ts oauth2.TokenSource, base http.RoundTripper) http.RoundTripper {
	if ts == nil {
		return base
	}
	return &oauth2.Transport{Source: ts, Base: base}
}
