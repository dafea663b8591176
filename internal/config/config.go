package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"edgauth.org/internal/auth"
)

// Config is the process configuration read from the environment.
// Token lifetimes stay strings: they use the auth duration grammar, which accepts days.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"production"`

	JWTSecret       string `env:"AUTH_JWT_SECRET"`
	AccessTTL       string `env:"AUTH_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL      string `env:"AUTH_REFRESH_TTL" envDefault:"7d"`
	Issuer          string `env:"AUTH_ISSUER" envDefault:"edg-auth-service"`
	BcryptCost      int    `env:"AUTH_BCRYPT_COST" envDefault:"12"`
	HashConcurrency int    `env:"AUTH_HASH_CONCURRENCY" envDefault:"4"`

	HTTPAddr string `env:"AUTH_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"AUTH_GRPC_ADDR" envDefault:":9090"`
	PGDSN    string `env:"AUTH_PG_DSN"`

	RedisAddr         string        `env:"AUTH_REDIS_ADDR"`
	RedisPassword     string        `env:"AUTH_REDIS_PASSWORD"`
	LoginMaxAttempts  int           `env:"AUTH_LOGIN_MAX_ATTEMPTS" envDefault:"10"`
	ResetMaxRequests  int           `env:"AUTH_RESET_MAX_REQUESTS" envDefault:"5"`
	ThrottleWindow    time.Duration `env:"AUTH_THROTTLE_WINDOW" envDefault:"15m"`
	SweepInterval     time.Duration `env:"AUTH_SWEEP_INTERVAL" envDefault:"1h"`
	RateBurst         int           `env:"AUTH_RATE_BURST" envDefault:"40"`
	RatePerSec        float64       `env:"AUTH_RATE_PER_SEC" envDefault:"20"`
	CORSAllowedOrigin string        `env:"AUTH_CORS_ORIGIN"`

	Version string `env:"AUTH_VERSION" envDefault:"dev"`
	Commit  string `env:"AUTH_COMMIT" envDefault:"none"`
}

// Load reads an optional .env file, then the environment, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a missing secret and malformed lifetimes.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: AUTH_JWT_SECRET is required", auth.ErrConfiguration)
	}
	if _, err := auth.ParseLifetime(c.AccessTTL); err != nil {
		return fmt.Errorf("%w: AUTH_ACCESS_TTL: %v", auth.ErrConfiguration, err)
	}
	if _, err := auth.ParseLifetime(c.RefreshTTL); err != nil {
		return fmt.Errorf("%w: AUTH_REFRESH_TTL: %v", auth.ErrConfiguration, err)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("%w: AUTH_BCRYPT_COST out of range", auth.ErrConfiguration)
	}
	if c.HashConcurrency < 1 {
		return fmt.Errorf("%w: AUTH_HASH_CONCURRENCY must be positive", auth.ErrConfiguration)
	}
	return nil
}

// ThrottleEnabled reports whether a Redis backend is configured.
func (c *Config) ThrottleEnabled() bool { return c.RedisAddr != "" }
