package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/florianilch/toolbridge/internal/app"
)

const envPrefix = "TOOLBRIDGE_"

// flagSource is the subset of *cli.Command used for flag overrides.
type flagSource interface {
	IsSet(name string) bool
	String(name string) string
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"listen":     "server.listen_addr",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// listKeys are split on commas when read from the environment.
var listKeys = map[string]bool{
	"server.models":         true,
	"upstream.oauth.scopes": true,
}

// loadConfig layers defaults, the optional TOML file at path, TOOLBRIDGE_*
// environment variables and set flags, in increasing precedence.
func loadConfig(path string, flags flagSource, environ func() []string) (app.Config, error) {
	var cfg app.Config
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(app.Defaults(), "."), nil); err != nil {
		return cfg, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return cfg, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return cfg, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	// TOOLBRIDGE_UPSTREAM__BASE_URL -> upstream.base_url
	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			key = strings.ReplaceAll(key, "__", ".")
			if listKeys[key] {
				return key, splitList(value)
			}
			return key, value
		},
		EnvironFunc: environ,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return cfg, fmt.Errorf("loading environment: %w", err)
	}

	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if flags != nil && flags.IsSet(flag) {
			overrides[key] = flags.String(flag)
		}
	}
	if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
		return cfg, fmt.Errorf("loading flags: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
