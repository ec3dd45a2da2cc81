// Package config loads and validates the gateway's single JSON
// configuration document (§6 "Configuration"): host/port, auth (static
// tokens + OAuth clients), per-backend descriptors, and rate-limit
// parameters, with environment variable overrides for port, bind host,
// and log level (§6 "Environment variables").
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/mcpgateway/gateway/pkg/backend"
)

// Config is the gateway's fully-loaded, validated configuration.
type Config struct {
	Host     string         `mapstructure:"host"`
	Port     int            `mapstructure:"port"`
	LogLevel string         `mapstructure:"logLevel"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Backends []BackendEntry `mapstructure:"backends"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	Session  SessionConfig  `mapstructure:"session"`
	Router   RouterConfig   `mapstructure:"router"`
}

// AuthConfig declares the static bearer-token fallback list and the OAuth
// client roster (§4.6).
type AuthConfig struct {
	StaticTokens []string      `mapstructure:"staticTokens"`
	OAuthClients []OAuthClient `mapstructure:"oauthClients"`
	Issuer       string        `mapstructure:"issuer"`
}

// OAuthClient declares one registered OAuth2 client and the grants/scopes
// it is permitted to use (§4.6 grants table).
type OAuthClient struct {
	ID           string   `mapstructure:"id"`
	Secret       string   `mapstructure:"secret"`
	GrantTypes   []string `mapstructure:"grantTypes"`
	Scopes       []string `mapstructure:"scopes"`
	RedirectURIs []string `mapstructure:"redirectUris"`
}

// BackendEntry is the config-file shape for one backend descriptor; it
// mirrors backend.Descriptor but expresses durations as config-friendly
// strings before being parsed.
type BackendEntry struct {
	ID                    string            `mapstructure:"id"`
	Name                  string            `mapstructure:"name"`
	Transport             string            `mapstructure:"transport"`
	Command               string            `mapstructure:"command"`
	Args                  []string          `mapstructure:"args"`
	Env                   map[string]string `mapstructure:"env"`
	Enabled               bool              `mapstructure:"enabled"`
	ConnectTimeout        time.Duration     `mapstructure:"connectTimeout"`
	MaxRestarts           int               `mapstructure:"maxRestarts"`
	RequestTimeout        time.Duration     `mapstructure:"requestTimeout"`
	RestartBackoffInitial time.Duration     `mapstructure:"restartBackoffInitial"`
	RestartBackoffMax     time.Duration     `mapstructure:"restartBackoffMax"`
	LogFilterRegex        string            `mapstructure:"logFilterRegex"`
}

// ToDescriptor converts a config-file backend entry to the runtime
// Descriptor type the Registry consumes.
func (b BackendEntry) ToDescriptor() backend.Descriptor {
	return backend.Descriptor{
		ID: b.ID, Name: b.Name, Transport: b.Transport,
		Command: b.Command, Args: b.Args, Env: b.Env, Enabled: b.Enabled,
		ConnectTimeout: b.ConnectTimeout, MaxRestarts: b.MaxRestarts,
		RequestTimeout:        b.RequestTimeout,
		RestartBackoffInitial: b.RestartBackoffInitial,
		RestartBackoffMax:     b.RestartBackoffMax,
		LogFilterRegex:        b.LogFilterRegex,
	}
}

// RateLimitConfig bounds the token-bucket rate limiter applied to every
// authenticated endpoint (§7 RateLimited).
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond"`
	Burst             int     `mapstructure:"burst"`
}

// SessionConfig controls the SSE Session Manager's idle timeout (§4.5).
type SessionConfig struct {
	IdleTimeout time.Duration `mapstructure:"idleTimeout"`
}

// RouterConfig bounds the Router's own per-call deadline (§4.3 "Timeouts").
type RouterConfig struct {
	CallTimeout time.Duration `mapstructure:"callTimeout"`
}

// defaults applied before a config file is read, so partial documents
// still produce a runnable gateway.
func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("logLevel", "info")
	v.SetDefault("rateLimit.requestsPerSecond", 50.0)
	v.SetDefault("rateLimit.burst", 100)
	v.SetDefault("session.idleTimeout", 30*time.Minute)
	v.SetDefault("router.callTimeout", 30*time.Second)
}

// Load reads the JSON configuration document at path, validates the
// document as written against the gateway's JSON Schema, applies
// environment variable overrides for host/port/log level, and returns the
// parsed Config. Any schema violation aborts with a ConfigInvalid-flavored
// error (§7).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetEnvPrefix("MCP_GATEWAY")
	v.AutomaticEnv()
	_ = v.BindEnv("host", "MCP_GATEWAY_HOST")
	_ = v.BindEnv("port", "MCP_GATEWAY_PORT")
	_ = v.BindEnv("logLevel", "MCP_GATEWAY_LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	// Validate the raw document rather than v.AllSettings(), which
	// lowercases every key and so hides camelCase properties from the schema.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if err := ValidateSchema(raw); err != nil {
		return nil, fmt.Errorf("config: schema validation failed: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// validate checks semantic constraints the JSON Schema doesn't express,
// such as backend id uniqueness.
func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend entry missing id")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate backend id %q", b.ID)
		}
		seen[b.ID] = true
		if b.Transport != "" && b.Transport != "stdio" {
			return fmt.Errorf("backend %q: unsupported transport %q (only \"stdio\" is implemented)", b.ID, b.Transport)
		}
	}
	return nil
}

// Descriptors converts every configured backend entry to a runtime
// Descriptor, in declaration order.
func (c *Config) Descriptors() []backend.Descriptor {
	out := make([]backend.Descriptor, len(c.Backends))
	for i, b := range c.Backends {
		out[i] = b.ToDescriptor()
	}
	return out
}
