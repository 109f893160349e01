package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/toolbridge/internal/claudeadapter/openaichat"
	"github.com/florianilch/toolbridge/internal/observability"
	"github.com/florianilch/toolbridge/internal/proxy"
	"github.com/florianilch/toolbridge/internal/sse"
)

// CredentialType selects where the backend credential comes from.
type CredentialType string

const (
	// CredentialConfig uses upstream.api_key.
	CredentialConfig CredentialType = "config"
	// CredentialKeyring reads the key stored by "auth set-key".
	CredentialKeyring CredentialType = "keyring"
	// CredentialClientCredentials runs the OAuth2 client credentials grant.
	CredentialClientCredentials CredentialType = "client_credentials"
	// CredentialNone sends backend requests without credentials.
	CredentialNone CredentialType = "none"
)

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Stream   StreamConfig   `koanf:"stream"`
	Log      LogConfig      `koanf:"log"`
	Usage    UsageConfig    `koanf:"usage"`
}

// ServerConfig configures the inbound HTTP server.
type ServerConfig struct {
	ListenAddr        string        `koanf:"listen_addr" validate:"required,hostname_port"`
	MaxRequestBytes   int64         `koanf:"max_request_bytes" validate:"gt=0"`
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"gte=0"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0"`
	ClientAPIKey      string        `koanf:"client_api_key"`
	Models            []string      `koanf:"models" validate:"dive,required"`
	Metrics           bool          `koanf:"metrics"`
}

// UpstreamConfig configures the OpenAI-compatible backend.
type UpstreamConfig struct {
	BaseURL     string         `koanf:"base_url" validate:"required,url"`
	Model       string         `koanf:"model"`
	Credential  CredentialType `koanf:"credential" validate:"oneof=config keyring client_credentials none"`
	APIKey      string         `koanf:"api_key" validate:"required_if=Credential config"`
	OAuth       OAuthConfig    `koanf:"oauth"`
	Timeout     time.Duration  `koanf:"timeout" validate:"gt=0"`
	IdleTimeout time.Duration  `koanf:"idle_timeout" validate:"gt=0"`
	Temperature float64        `koanf:"temperature" validate:"gte=0,lte=2"`
	TopP        float64        `koanf:"top_p" validate:"gte=0,lte=1"`
	Breaker     BreakerConfig  `koanf:"breaker"`
}

// OAuthConfig configures the client credentials grant.
type OAuthConfig struct {
	TokenURL     string   `koanf:"token_url" validate:"omitempty,url"`
	ClientID     string   `koanf:"client_id"`
	ClientSecret string   `koanf:"client_secret"`
	Scopes       []string `koanf:"scopes"`
}

// BreakerConfig configures the backend circuit breaker.
type BreakerConfig struct {
	MaxRequests  uint32        `koanf:"max_requests"`
	Interval     time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout      time.Duration `koanf:"timeout" validate:"gte=0"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gte=0,lte=1"`
	// MinRequests of 0 disables the breaker.
	MinRequests uint32 `koanf:"min_requests"`
}

// StreamConfig configures response streaming.
type StreamConfig struct {
	AggregationInterval time.Duration `koanf:"aggregation_interval" validate:"gte=0"`
	TokenMultiplier     float64       `koanf:"token_multiplier" validate:"gt=0"`
	BufferFrames        int           `koanf:"buffer_frames" validate:"gt=0"`
	EmitThinking        bool          `koanf:"emit_thinking"`
	Writer              WriterConfig  `koanf:"writer"`
}

// WriterConfig configures frame delivery retries.
type WriterConfig struct {
	BackpressureWait     time.Duration `koanf:"backpressure_wait" validate:"gt=0"`
	MaxBackpressureWaits int           `koanf:"max_backpressure_waits" validate:"gte=0"`
	CriticalRetries      int           `koanf:"critical_retries" validate:"gte=0"`
	DeltaRetries         int           `koanf:"delta_retries" validate:"gte=0"`
	RetryDelay           time.Duration `koanf:"retry_delay" validate:"gt=0"`
	MaxRetryDelay        time.Duration `koanf:"max_retry_delay" validate:"gtefield=RetryDelay"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `koanf:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format     string `koanf:"format" validate:"oneof=text json"`
	File       string `koanf:"file"`
	RequestDir string `koanf:"request_dir"`
	Disabled   bool   `koanf:"disabled"`
	Exporter   string `koanf:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
}

// UsageConfig configures the usage ledger.
type UsageConfig struct {
	// Database is the SQLite file path. Empty disables the ledger.
	Database string `koanf:"database"`
}

// Defaults returns the default configuration as a flat key map, the shape
// expected by the configuration loader.
func Defaults() map[string]any {
	return map[string]any{
		"server.listen_addr":         "127.0.0.1:4000",
		"server.max_request_bytes":   int64(32 << 20),
		"server.write_timeout":       30 * time.Second,
		"server.read_header_timeout": 10 * time.Second,
		"server.client_api_key":      "",
		"server.models":              []string{},
		"server.metrics":             true,

		"upstream.base_url":              "https://api.openai.com/v1",
		"upstream.model":                 "",
		"upstream.credential":            string(CredentialConfig),
		"upstream.api_key":               "",
		"upstream.timeout":               120 * time.Second,
		"upstream.idle_timeout":          60 * time.Second,
		"upstream.temperature":           0.2,
		"upstream.top_p":                 1.0,
		"upstream.breaker.max_requests":  3,
		"upstream.breaker.interval":      60 * time.Second,
		"upstream.breaker.timeout":       30 * time.Second,
		"upstream.breaker.failure_ratio": 0.5,
		"upstream.breaker.min_requests":  5,

		"stream.aggregation_interval":          35 * time.Millisecond,
		"stream.token_multiplier":              1.0,
		"stream.buffer_frames":                 64,
		"stream.emit_thinking":                 true,
		"stream.writer.backpressure_wait":      10 * time.Millisecond,
		"stream.writer.max_backpressure_waits": 50,
		"stream.writer.critical_retries":       5,
		"stream.writer.delta_retries":          2,
		"stream.writer.retry_delay":            20 * time.Millisecond,
		"stream.writer.max_retry_delay":        500 * time.Millisecond,

		"log.level":       "info",
		"log.format":      "text",
		"log.file":        "",
		"log.request_dir": "",
		"log.disabled":    false,
		"log.exporter":    "none",

		"usage.database": "",
	}
}

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.Struct(c)
	if err == nil {
		return c.validateCredential()
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func (c *Config) validateCredential() error {
	if c.Upstream.Credential != CredentialClientCredentials {
		return nil
	}
	o := c.Upstream.OAuth
	if o.TokenURL == "" || o.ClientID == "" {
		return errors.New("invalid config: upstream.oauth.token_url and upstream.oauth.client_id are required for client_credentials")
	}
	return nil
}

// Observability returns the logging setup.
func (c *Config) Observability() (observability.Config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return observability.Config{}, fmt.Errorf("invalid log level: %w", err)
	}
	return observability.Config{
		Level:    level,
		Format:   c.Log.Format,
		File:     c.Log.File,
		Exporter: c.Log.Exporter,
		Disabled: c.Log.Disabled,
	}, nil
}

func (c *Config) upstream() openaichat.Config {
	u := c.Upstream
	return openaichat.Config{
		BaseURL:           u.BaseURL,
		ModelOverride:     u.Model,
		Temperature:       u.Temperature,
		TopP:              u.TopP,
		FirstChunkTimeout: u.Timeout,
		IdleTimeout:       u.IdleTimeout,
		TokenMultiplier:   c.Stream.TokenMultiplier,
		EmitThinking:      c.Stream.EmitThinking,
		Breaker: openaichat.BreakerConfig{
			MaxRequests:  u.Breaker.MaxRequests,
			Interval:     u.Breaker.Interval,
			Timeout:      u.Breaker.Timeout,
			FailureRatio: u.Breaker.FailureRatio,
			MinRequests:  u.Breaker.MinRequests,
		},
	}
}

func (c *Config) stream() proxy.StreamConfig {
	w := c.Stream.Writer
	return proxy.StreamConfig{
		AggregationInterval: c.Stream.AggregationInterval,
		BufferFrames:        c.Stream.BufferFrames,
		WriteTimeout:        c.Server.WriteTimeout,
		Writer: sse.Policy{
			BackpressureWait:     w.BackpressureWait,
			MaxBackpressureWaits: w.MaxBackpressureWaits,
			CriticalRetries:      w.CriticalRetries,
			DeltaRetries:         w.DeltaRetries,
			RetryDelay:           w.RetryDelay,
			MaxRetryDelay:        w.MaxRetryDelay,
		},
	}
}
