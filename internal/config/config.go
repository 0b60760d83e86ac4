// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultMaxRequestSize is the request body size limit applied when the
// config omits max_request_size (spec §6, 10 MiB).
const DefaultMaxRequestSize = 10 << 20

// Config is the top-level configuration for the gateway.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	Auth      AuthConfig                `koanf:"auth"`
	Redis     RedisConfig               `koanf:"redis"`
	Database  DatabaseConfig            `koanf:"database"`
	Telemetry TelemetryConfig           `koanf:"telemetry"`
	Policy    PolicyConfig              `koanf:"policy"`

	// MaxRequestSize caps the decoded request body, in bytes (spec §6).
	MaxRequestSize int64 `koanf:"max_request_size"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// ProviderConfig holds the settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string   `koanf:"api_key"`
	BaseURL string   `koanf:"base_url"`
	Models  []string `koanf:"models"`
}

// AuthConfig holds the bearer/x-api-key credentials the HTTP layer
// checks incoming requests against (spec §6 "PROXY_API_KEY",
// "ADMIN_API_KEY").
type AuthConfig struct {
	ProxyAPIKey string `koanf:"proxy_api_key"`
	AdminAPIKey string `koanf:"admin_api_key"`
}

// RedisConfig points the activity-channel sink at a Redis instance
// (spec §6 "REDIS_URL").
type RedisConfig struct {
	URL string `koanf:"url"`
}

// DatabaseConfig points the transaction-recording sink at Postgres
// (spec §6 "DATABASE_URL").
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// TelemetryConfig configures the OTel exporter (spec §6 "OTEL_ENDPOINT").
// An empty Endpoint disables tracing.
type TelemetryConfig struct {
	Endpoint string `koanf:"otel_endpoint"`
}

// PolicyConfig selects which policy governs a transaction and its
// policy-specific settings (spec §6 "POLICY_CONFIG", §3 "class, config").
type PolicyConfig struct {
	Class  string         `koanf:"class"`
	Config map[string]any `koanf:"config"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	// This is the equivalent of require('dotenv').config() in Node.
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "server.port").
	k := koanf.New(".")

	// Load the YAML config file. file.Provider reads the file,
	// yaml.Parser() decodes the YAML format into koanf's internal map.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "LUTHIEN_" can override a config value. The callback transforms
	// the env var name into a koanf key path:
	//   LUTHIEN_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("LUTHIEN_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "LUTHIEN_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Unmarshal the loaded key-value pairs into our Config struct.
	// The "" means start from the root. &cfg passes a pointer so koanf
	// can write into the struct (like passing by reference in Node).
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// A handful of settings are documented in spec §6 as bare (unprefixed)
	// env vars rather than LUTHIEN_-namespaced ones, since they're shared
	// infra conventions (DATABASE_URL, REDIS_URL) rather than gateway-only
	// knobs. Apply them directly, preferring whatever the YAML file or a
	// LUTHIEN_ env var already set.
	stringEnvOverride(&cfg.Database.URL, "DATABASE_URL")
	stringEnvOverride(&cfg.Redis.URL, "REDIS_URL")
	stringEnvOverride(&cfg.Telemetry.Endpoint, "OTEL_ENDPOINT")
	stringEnvOverride(&cfg.Auth.ProxyAPIKey, "PROXY_API_KEY")
	stringEnvOverride(&cfg.Auth.AdminAPIKey, "ADMIN_API_KEY")

	// Expand ${VAR_NAME} placeholders in provider API keys.
	// koanf doesn't do this automatically, so we handle it ourselves
	// using os.Getenv to look up the actual environment variable value.
	for name, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "${") && strings.HasSuffix(p.APIKey, "}") {
			envVar := p.APIKey[2 : len(p.APIKey)-1] // strip ${ and }
			p.APIKey = os.Getenv(envVar)
			cfg.Providers[name] = p // write back into the map
		}
	}

	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = DefaultMaxRequestSize
	}

	return &cfg, nil
}

// stringEnvOverride sets *dst from the named env var when dst is still
// empty and the env var is set.
func stringEnvOverride(dst *string, envVar string) {
	if *dst != "" {
		return
	}
	if v := os.Getenv(envVar); v != "" {
		*dst = v
	}
}
