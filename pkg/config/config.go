// Package config loads devici-mcp settings from a YAML file, a .env file and
// DEVICI_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/wilhg/devici-mcp/pkg/auth"
	"github.com/wilhg/devici-mcp/pkg/platform"
)

const (
	DefaultAPIBaseURL = "https://api.devici.com/api/v1"
	DefaultStoreDSN   = "sqlite:file:devici-mcp.sqlite?_pragma=busy_timeout(5000)"
	// MemoryDSN selects the in-memory document store.
	MemoryDSN = "memory"
)

// Config is the complete devici-mcp configuration.
type Config struct {
	APIBaseURL   string `mapstructure:"api_base_url" validate:"required,url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	LogLevel     string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Debug        bool   `mapstructure:"debug"`

	HTTP   HTTPConfig   `mapstructure:"http"`
	Retry  RetryConfig  `mapstructure:"retry"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Store  StoreConfig  `mapstructure:"store"`
	Server ServerConfig `mapstructure:"server"`
	OTel   OTelConfig   `mapstructure:"otel"`
}

type HTTPConfig struct {
	// Timeout bounds each attempt, not the whole retried call.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	BaseDelay     time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay      time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	MaxRetryAfter time.Duration `mapstructure:"max_retry_after" validate:"gt=0"`
}

type AuthConfig struct {
	SafetyMargin time.Duration `mapstructure:"safety_margin" validate:"gte=0"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn" validate:"required,store_dsn"`
}

type ServerConfig struct {
	// HTTPAddr serves streamable HTTP when set; stdio otherwise.
	HTTPAddr string `mapstructure:"http_addr" validate:"omitempty,hostname_port"`
	ReadOnly bool   `mapstructure:"read_only"`
}

type OTelConfig struct {
	Stdout bool `mapstructure:"stdout"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	def := platform.DefaultRetryPolicy()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = def.BaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}
	if c.Retry.MaxRetryAfter == 0 {
		c.Retry.MaxRetryAfter = def.MaxRetryAfter
	}
	if c.Auth.SafetyMargin == 0 {
		c.Auth.SafetyMargin = auth.DefaultSafetyMargin
	}
	if c.Store.DSN == "" {
		c.Store.DSN = DefaultStoreDSN
	}
}

// EffectiveLogLevel applies the DEBUG override.
func (c *Config) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

// RetryPolicy converts the retry settings.
func (c *Config) RetryPolicy() platform.RetryPolicy {
	p := platform.DefaultRetryPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.BaseDelay = c.Retry.BaseDelay
	p.MaxDelay = c.Retry.MaxDelay
	p.MaxRetryAfter = c.Retry.MaxRetryAfter
	return p
}

// Credential returns the client credentials for the token exchange.
func (c *Config) Credential() auth.Credential {
	return auth.Credential{ClientID: c.ClientID, ClientSecret: c.ClientSecret, BaseURL: c.APIBaseURL}
}
