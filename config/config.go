// Package config loads service configuration from a YAML file with
// environment-variable overlay.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root service configuration. Sources, by priority: an
// explicit path (--config flag), the CONFIG_PATH environment variable, then
// environment variables alone.
type Config struct {
	Env   string      `yaml:"env" env:"ENV" env-default:"local"`
	HTTP  HTTPConfig  `yaml:"http"`
	Auth  AuthConfig  `yaml:"auth"`
	Sweep SweepConfig `yaml:"sweep"`
	DB    DBConfig    `yaml:"db"`
	Redis RedisConfig `yaml:"redis"`
}

// HTTPConfig holds the HTTP server listen settings.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// Addr returns the address in host:port form.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// AuthConfig holds credential issuance and validation parameters. The
// signing secret is the structural-validity root of trust and has no
// default.
type AuthConfig struct {
	SigningSecret string        `yaml:"signing_secret" env:"SIGNING_SECRET" env-required:"true"`
	Domain        string        `yaml:"domain" env:"AUTH_DOMAIN" env-default:"gatehouse"`
	ChainID       uint64        `yaml:"chain_id" env:"CHAIN_ID" env-default:"1"`
	SessionTTL    time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"36h"`
	NonceTTL      time.Duration `yaml:"nonce_ttl" env:"NONCE_TTL" env-default:"5m"`
}

// SweepConfig holds the expired-credential sweep interval.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval" env:"SWEEP_INTERVAL" env-default:"12h"`
}

// DBConfig holds the database connection settings.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL" env-required:"true"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL" env-required:"true"`
}

// MustLoad wraps Load and panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load reads configuration from the given path (or CONFIG_PATH, or
// environment variables alone) with env vars overlaid on file values.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH or env vars: %w", err)
	}

	return &cfg, nil
}
