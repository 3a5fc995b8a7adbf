// Package config loads runtime configuration from defaults, an optional
// ferry.yaml, and FERRY_* environment variables, in that order of
// increasing precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type JobsConfig struct {
	// RootDir is the directory holding per-action job directories.
	RootDir string `mapstructure:"root_dir"`
	// DefaultTTL is applied to submitted jobs when the request does not
	// set its own expiration.
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// ProvidersConfig selects which storage connectors the server offers.
type ProvidersConfig struct {
	LocalFS LocalFSProviderConfig `mapstructure:"localfs"`
	S3      S3ProviderConfig      `mapstructure:"s3"`
}

type LocalFSProviderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseDir string `mapstructure:"base_dir"`
}

type S3ProviderConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load resolves configuration. An optional overrides map (nested keys
// matching the YAML layout) takes precedence over every other source;
// it exists for tests and for CLI flag plumbing.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("jobs.root_dir", "jobs")
	v.SetDefault("jobs.default_ttl", 5*time.Hour)
	v.SetDefault("providers.localfs.enabled", true)
	v.SetDefault("providers.localfs.base_dir", "data")
	v.SetDefault("providers.s3.enabled", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetConfigName("ferry")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ferry")

	v.SetEnvPrefix("FERRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyOverrides flattens a nested override map into viper Set calls so
// overrides outrank env vars and file values.
func applyOverrides(v *viper.Viper, prefix string, m map[string]any) {
	for key, val := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, full, nested)
			continue
		}
		v.Set(full, val)
	}
}

// Validate rejects configurations the server could not start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Jobs.RootDir == "" {
		return fmt.Errorf("jobs.root_dir must not be empty")
	}
	if c.Jobs.DefaultTTL <= 0 {
		return fmt.Errorf("jobs.default_ttl must be positive")
	}
	if c.Providers.LocalFS.Enabled && c.Providers.LocalFS.BaseDir == "" {
		return fmt.Errorf("providers.localfs.base_dir must not be empty when enabled")
	}
	if c.Providers.S3.Enabled && c.Providers.S3.Bucket == "" {
		return fmt.Errorf("providers.s3.bucket must not be empty when enabled")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}
