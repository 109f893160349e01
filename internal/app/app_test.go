package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:        "127.0.0.1:4000",
			MaxRequestBytes:   1 << 20,
			WriteTimeout:      time.Second,
			ReadHeaderTimeout: time.Second,
			Metrics:           true,
		},
		Upstream: UpstreamConfig{
			BaseURL:     "https://api.openai.com/v1",
			Credential:  CredentialConfig,
			APIKey:      "sk-test",
			Timeout:     time.Minute,
			IdleTimeout: time.Minute,
			Temperature: 0.2,
			TopP:        1,
		},
		Stream: StreamConfig{
			AggregationInterval: 35 * time.Millisecond,
			TokenMultiplier:     1,
			BufferFrames:        64,
			Writer: WriterConfig{
				BackpressureWait:     10 * time.Millisecond,
				MaxBackpressureWaits: 50,
				CriticalRetries:      5,
				DeltaRetries:         2,
				RetryDelay:           20 * time.Millisecond,
				MaxRetryDelay:        500 * time.Millisecond,
			},
		},
		Log: LogConfig{Level: "info", Format: "text", Exporter: "none"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.Upstream.APIKey = "" },
			wantErr: "APIKey",
		},
		{
			name: "keyring needs no api key",
			mutate: func(c *Config) {
				c.Upstream.APIKey = ""
				c.Upstream.Credential = CredentialKeyring
			},
		},
		{
			name:    "unknown credential",
			mutate:  func(c *Config) { c.Upstream.Credential = "magic" },
			wantErr: "Credential",
		},
		{
			name:    "client credentials without token url",
			mutate:  func(c *Config) { c.Upstream.Credential = CredentialClientCredentials },
			wantErr: "token_url",
		},
		{
			name:    "bad base url",
			mutate:  func(c *Config) { c.Upstream.BaseURL = "not a url" },
			wantErr: "BaseURL",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Upstream.Temperature = 3 },
			wantErr: "Temperature",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "Format",
		},
		{
			name:    "retry delay cap below base",
			mutate:  func(c *Config) { c.Stream.Writer.MaxRetryDelay = time.Millisecond },
			wantErr: "MaxRetryDelay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigObservability(t *testing.T) {
	cfg := testConfig()
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"

	obs, err := cfg.Observability()
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", obs.Level.String())
	assert.Equal(t, "json", obs.Format)
}

func TestConfigMapping(t *testing.T) {
	cfg := testConfig()
	cfg.Upstream.Model = "gpt-4o"
	cfg.Stream.EmitThinking = true
	cfg.Upstream.Breaker.MinRequests = 5

	up := cfg.upstream()
	assert.Equal(t, "gpt-4o", up.ModelOverride)
	assert.Equal(t, time.Minute, up.FirstChunkTimeout)
	assert.True(t, up.EmitThinking)
	assert.Equal(t, uint32(5), up.Breaker.MinRequests)

	stream := cfg.stream()
	assert.Equal(t, time.Second, stream.WriteTimeout)
	assert.Equal(t, 5, stream.Writer.CriticalRetries)
}

func TestAppLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Usage.Database = filepath.Join(t.TempDir(), "usage.db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	assert.False(t, a.Health().IsReady())

	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	require.Eventually(t, func() bool { return a.Addr() != "" && a.Health().IsReady() }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + a.Addr() + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.False(t, a.Health().IsReady())
}

func TestAppStartFailsOnBusyAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"

	first, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = first.Start(ctx) }()
	require.Eventually(t, func() bool { return first.Addr() != "" }, 5*time.Second, 10*time.Millisecond)

	cfg.Server.ListenAddr = first.Addr()
	second, err := New(context.Background(), cfg)
	require.NoError(t, err)

	err = second.Start(context.Background())
	assert.ErrorContains(t, err, "proxy startup failed")
}

func TestNewTokenSource(t *testing.T) {
	ts, err := newTokenSource(context.Background(), UpstreamConfig{Credential: CredentialConfig, APIKey: "sk-1"}, options{})
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "sk-1", tok.AccessToken)

	ts, err = newTokenSource(context.Background(), UpstreamConfig{Credential: CredentialNone}, options{})
	require.NoError(t, err)
	assert.Nil(t, ts)

	_, err = newTokenSource(context.Background(), UpstreamConfig{Credential: "bogus"}, options{})
	assert.Error(t, err)
}
