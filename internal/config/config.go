package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "STOREFRONT"

// Config is the client configuration.
type Config struct {
	Env    string       `mapstructure:"env" validate:"required,oneof=dev prod test"`
	API    APIParams    `mapstructure:"api" validate:"required"`
	Tokens TokensParams `mapstructure:"tokens" validate:"required"`
	// FakeAPI is read only by the local development server.
	FakeAPI FakeAPIParams `mapstructure:"fakeapi" validate:"required"`
}

// APIParams configures the remote API transport.
type APIParams struct {
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"min=100ms,max=2m"`
	RatePerSec float64       `mapstructure:"rate_per_sec" validate:"gte=0"`
	Burst      int           `mapstructure:"burst" validate:"gte=1"`
	Retry      bool          `mapstructure:"retry"`
}

// TokensParams selects where the token pair is persisted.
type TokensParams struct {
	Backend     string `mapstructure:"backend" validate:"required,oneof=memory sqlite postgres redis"`
	SQLitePath  string `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	PostgresDSN string `mapstructure:"postgres_dsn" validate:"required_if=Backend postgres"`
	RedisURL    string `mapstructure:"redis_url" validate:"required_if=Backend redis"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

// FakeAPIParams configures cmd/fakeapi.
type FakeAPIParams struct {
	Addr       string        `mapstructure:"addr" validate:"required"`
	Prefix     string        `mapstructure:"prefix"`
	Secret     string        `mapstructure:"secret" validate:"required,min=16"`
	TokenTTL   time.Duration `mapstructure:"token_ttl" validate:"min=1m"`
	RatePerSec float64       `mapstructure:"rate_per_sec" validate:"gte=0"`
	Burst      int           `mapstructure:"burst" validate:"gte=1"`
	Seed       bool          `mapstructure:"seed"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("api.base_url", "http://localhost:8000/api")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.rate_per_sec", 20.0)
	v.SetDefault("api.burst", 10)
	v.SetDefault("api.retry", true)
	v.SetDefault("tokens.backend", "sqlite")
	v.SetDefault("tokens.sqlite_path", "storefront-tokens.db")
	v.SetDefault("tokens.postgres_dsn", "")
	v.SetDefault("tokens.redis_url", "")
	v.SetDefault("tokens.redis_prefix", "storefront:")
	v.SetDefault("fakeapi.addr", ":8000")
	v.SetDefault("fakeapi.prefix", "/api")
	v.SetDefault("fakeapi.secret", "storefront-dev-secret")
	v.SetDefault("fakeapi.token_ttl", 30*time.Minute)
	v.SetDefault("fakeapi.rate_per_sec", 50.0)
	v.SetDefault("fakeapi.burst", 100)
	v.SetDefault("fakeapi.seed", true)
}

// Load reads configuration from defaults, an optional YAML file and
// STOREFRONT_* environment variables (e.g. STOREFRONT_API_BASE_URL), in
// increasing order of precedence. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
