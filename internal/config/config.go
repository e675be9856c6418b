// Package config provides centralized configuration for the infographer server.
// Values come from environment variables, optionally layered over a TOML file
// named by INFOGRAPHER_CONFIG.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yangwenmai/infographer/internal/generator"
	"github.com/yangwenmai/infographer/internal/identity"
)

// Config holds all server configuration values.
type Config struct {
	// Port is the HTTP server listen port.
	Port string `mapstructure:"port"`

	// StoreDSN selects the state store: sqlite://path, postgres://..., memory://.
	StoreDSN string `mapstructure:"store_dsn"`

	// Generator selects the generation backend: "http" or "stub".
	Generator string `mapstructure:"generator"`

	// GeneratorURL is the endpoint of the remote generation service.
	GeneratorURL string `mapstructure:"generator_url"`

	// GenerateTimeout bounds each remote call. Zero means no limit.
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`

	// RequireCredential makes generation require a stored credential.
	RequireCredential bool `mapstructure:"require_credential"`

	// CredentialFile, when set, keeps the credential in a sealed file
	// instead of the state store.
	CredentialFile string `mapstructure:"credential_file"`

	// CORSOrigin is the allowed CORS origin. Defaults to "*".
	CORSOrigin string `mapstructure:"cors_origin"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// WatchHosts and ShortHosts override the default platform hosts.
	WatchHosts []string `mapstructure:"watch_hosts"`
	ShortHosts []string `mapstructure:"short_hosts"`

	// SessionBuffer is the outbound queue length per surface session.
	SessionBuffer int `mapstructure:"session_buffer"`

	// PresenceTTL is how long an HTTP-only surface's presence is kept.
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`

	// ShutdownGrace bounds how long in-flight generations may finish on exit.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// ConfigFileEnv names the optional TOML config file.
const ConfigFileEnv = "INFOGRAPHER_CONFIG"

// Load reads configuration from the optional file and the environment,
// applying defaults. Environment variables take precedence.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("store_dsn", "sqlite://infographer.db")
	v.SetDefault("generator", "http")
	v.SetDefault("generator_url", generator.DefaultURL)
	v.SetDefault("generate_timeout", time.Duration(0))
	v.SetDefault("require_credential", true)
	v.SetDefault("credential_file", "")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("watch_hosts", []string{})
	v.SetDefault("short_hosts", []string{})
	v.SetDefault("session_buffer", 16)
	v.SetDefault("presence_ttl", 10*time.Minute)
	v.SetDefault("shutdown_grace", 10*time.Second)

	v.SetConfigType("toml")
	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c.WatchHosts = splitHosts(c.WatchHosts)
	c.ShortHosts = splitHosts(c.ShortHosts)
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.Generator {
	case "http", "stub":
	default:
		errs = append(errs, fmt.Errorf("GENERATOR must be http or stub, got %q", c.Generator))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.GenerateTimeout < 0 {
		errs = append(errs, errors.New("GENERATE_TIMEOUT must not be negative"))
	}
	if c.SessionBuffer <= 0 {
		errs = append(errs, errors.New("SESSION_BUFFER must be positive"))
	}
	return errors.Join(errs...)
}

// Platform returns the configured hosts, or the default platform when none
// are set.
func (c Config) Platform() identity.Platform {
	if len(c.WatchHosts) == 0 && len(c.ShortHosts) == 0 {
		return identity.YouTube
	}
	return identity.Platform{WatchHosts: c.WatchHosts, ShortHosts: c.ShortHosts}
}

// splitHosts flattens comma-separated entries, as produced by env values.
func splitHosts(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
