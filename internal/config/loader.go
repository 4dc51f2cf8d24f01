// Package config provides configuration loading for agentrelay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for agentrelay.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("agentrelay")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AGENTRELAY_SERVER_ADDR
	viper.SetEnvPrefix("AGENTRELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an agentrelay config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".agentrelay"),
		"/etc/agentrelay",
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for agentrelay.yaml
// or .yml. Returns the full path of the first match, or empty string.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "agentrelay"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the config keys for environment variable support.
// Example: AGENTRELAY_STORE_REDIS_ADDR overrides store.redis.addr.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.tls_cert")
	_ = viper.BindEnv("server.tls_key")
	// Note: server.allowed_origins is an array, use the config file.

	_ = viper.BindEnv("session.ttl")
	_ = viper.BindEnv("session.sweep_interval")

	_ = viper.BindEnv("store.backend")
	_ = viper.BindEnv("store.redis.addr")
	_ = viper.BindEnv("store.redis.password")
	_ = viper.BindEnv("store.redis.db")
	_ = viper.BindEnv("store.redis.key_prefix")

	_ = viper.BindEnv("agent.endpoint")
	_ = viper.BindEnv("agent.timeout")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates. Missing config file is not an error; the
// relay then runs on environment variables and defaults alone.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT validate. Use this when CLI flags may override fields (e.g.
// --dev) before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or empty string when running on env vars only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
