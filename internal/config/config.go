package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port              int    `env:"PORT" envDefault:"8080"`
	DatabaseURL       string `env:"DATABASE_URL,required"`
	RedisURL          string `env:"REDIS_URL,required"`
	UpstreamURL       string `env:"UPSTREAM_URL,required"`
	UpstreamAPIKey    string `env:"UPSTREAM_API_KEY"`
	UpstreamModel     string `env:"UPSTREAM_MODEL" envDefault:"claude-sonnet-4-20250514"`
	AdminToken        string `env:"ADMIN_TOKEN"`
	SessionTTLMinutes int    `env:"SESSION_TTL_MINUTES" envDefault:"30"`
	MaxMessageLength  int    `env:"MAX_MESSAGE_LENGTH" envDefault:"8000"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.SessionTTLMinutes <= 0 {
		return fmt.Errorf("SESSION_TTL_MINUTES must be positive")
	}

	if isProduction {
		if err := validateSecret("ADMIN_TOKEN", c.AdminToken); err != nil {
			return err
		}
		if c.UpstreamAPIKey == "" {
			log.Warn().Msg("UPSTREAM_API_KEY is empty in production: provider requests will be unauthenticated")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
