package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	ProviderGoogle  = "google"
	ProviderYelp    = "yelp"
	ProviderFixture = "fixture"
)

type Config struct {
	Port                  int     `env:"PORT" envDefault:"8080"`
	DatabaseURL           string  `env:"DATABASE_URL"`
	RedisURL              string  `env:"REDIS_URL"`
	LogLevel              string  `env:"LOG_LEVEL" envDefault:"info"`
	PlacesProvider        string  `env:"PLACES_PROVIDER" envDefault:"fixture"`
	GooglePlacesAPIKey    string  `env:"GOOGLE_PLACES_API_KEY"`
	YelpAPIKey            string  `env:"YELP_API_KEY"`
	PlacesFixturePath     string  `env:"PLACES_FIXTURE_PATH"`
	PlacesRateLimitPerSec float64 `env:"PLACES_RATE_LIMIT_PER_SEC" envDefault:"5"`
	PlacesMaxConcurrency  int     `env:"PLACES_MAX_CONCURRENCY" envDefault:"4"`
	SearchTimeoutSeconds  int     `env:"SEARCH_TIMEOUT_SECONDS" envDefault:"5"`
	DefaultRadiusMeters   float64 `env:"DEFAULT_RADIUS_METERS" envDefault:"5000"`
	MinQuorum             int     `env:"MIN_QUORUM" envDefault:"2"`
	SessionIdleTTLMinutes int     `env:"SESSION_IDLE_TTL_MINUTES" envDefault:"60"`
	CreateRateLimitPerMin int     `env:"CREATE_RATE_LIMIT_PER_MIN" envDefault:"20"`
}

func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutSeconds) * time.Second
}

func (c *Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLMinutes) * time.Minute
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate() error {
	switch c.PlacesProvider {
	case ProviderGoogle:
		if c.GooglePlacesAPIKey == "" {
			return fmt.Errorf("GOOGLE_PLACES_API_KEY is required when PLACES_PROVIDER=google")
		}
	case ProviderYelp:
		if c.YelpAPIKey == "" {
			return fmt.Errorf("YELP_API_KEY is required when PLACES_PROVIDER=yelp")
		}
	case ProviderFixture:
		if c.PlacesFixturePath == "" {
			log.Warn().Msg("PLACES_FIXTURE_PATH is empty: searches will return no restaurants")
		}
	default:
		return fmt.Errorf("unknown PLACES_PROVIDER %q (expected google, yelp or fixture)", c.PlacesProvider)
	}

	if c.MinQuorum < 1 {
		return fmt.Errorf("MIN_QUORUM must be at least 1")
	}
	if c.SearchTimeoutSeconds <= 0 {
		return fmt.Errorf("SEARCH_TIMEOUT_SECONDS must be positive")
	}
	if c.DefaultRadiusMeters <= 0 {
		return fmt.Errorf("DEFAULT_RADIUS_METERS must be positive")
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
