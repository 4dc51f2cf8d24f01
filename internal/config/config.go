// Package config provides the configuration schema for agentrelay.
//
// Configuration is file-based (YAML) with environment variable overrides.
// The schema is deliberately small: one listener, one session store, one
// upstream agent runtime.
package config

import (
	"time"
)

// Config is the top-level configuration for the relay.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Session configures session lifetimes and expiry sweeping.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Store selects and configures the session store backend.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Agent configures the upstream agent runtime.
	Agent AgentConfig `yaml:"agent" mapstructure:"agent"`

	// DevMode enables development features: debug logging and the
	// built-in mock agent runtime when no endpoint is configured.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// TLSCert and TLSKey enable TLS when both are set.
	TLSCert string `yaml:"tls_cert" mapstructure:"tls_cert" validate:"omitempty,file"`
	TLSKey  string `yaml:"tls_key" mapstructure:"tls_key" validate:"omitempty,file"`

	// AllowedOrigins lists the origins accepted on browser requests.
	// Empty means any request carrying an Origin header is rejected.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// SessionConfig configures session lifetimes.
type SessionConfig struct {
	// TTL is the default session lifetime (e.g., "30m", "24h").
	// Applied when a request does not name an explicit ttl.
	// Defaults to "24h" if empty.
	TTL string `yaml:"ttl" mapstructure:"ttl" validate:"omitempty,duration"`

	// SweepInterval is how often the background sweeper removes expired
	// sessions (e.g., "1m", "5m"). Defaults to "1m" if empty.
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"omitempty,duration"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	// Backend is "memory" or "redis". Defaults to "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory redis"`

	// Redis configures the redis backend. Required when Backend is "redis".
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig configures the redis session store.
type RedisConfig struct {
	// Addr is the redis server address (e.g., "localhost:6379").
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`

	// Password authenticates to redis. Empty for no auth.
	Password string `yaml:"password" mapstructure:"password"`

	// DB is the redis database number. Defaults to 0.
	DB int `yaml:"db" mapstructure:"db" validate:"omitempty,min=0"`

	// KeyPrefix namespaces the relay's keys. Defaults to "agentrelay:session:".
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// AgentConfig configures the upstream agent runtime.
type AgentConfig struct {
	// Endpoint is the agent runtime URL (e.g., "http://localhost:9090/rpc").
	// Required unless DevMode is set, in which case the built-in mock
	// runtime answers queries.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,url"`

	// Timeout bounds a single agent query (e.g., "60s").
	// Defaults to "60s" if empty.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless the operator asks for more.
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Session.TTL == "" {
		c.Session.TTL = "24h"
	}
	if c.Session.SweepInterval == "" {
		c.Session.SweepInterval = "1m"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.Backend == "redis" && c.Store.Redis.KeyPrefix == "" {
		c.Store.Redis.KeyPrefix = "agentrelay:session:"
	}

	if c.Agent.Timeout == "" {
		c.Agent.Timeout = "60s"
	}
}

// SessionTTL returns the parsed default session lifetime.
// Call after SetDefaults and Validate.
func (c *Config) SessionTTL() time.Duration {
	return mustDuration(c.Session.TTL)
}

// SweepInterval returns the parsed sweep interval.
func (c *Config) SweepInterval() time.Duration {
	return mustDuration(c.Session.SweepInterval)
}

// AgentTimeout returns the parsed agent query timeout.
func (c *Config) AgentTimeout() time.Duration {
	return mustDuration(c.Agent.Timeout)
}

// mustDuration parses a duration that the "duration" validation tag has
// already accepted. A zero return only happens on unvalidated input.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
