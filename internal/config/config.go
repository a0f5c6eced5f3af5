// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the API process.
type Config struct {
	Addr        string `env:"CAJA_HTTP_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"CAJA_PG_DSN"`
	AuthSecret  string `env:"CAJA_AUTH_SECRET"`

	KafkaBrokers []string `env:"CAJA_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"CAJA_KAFKA_TOPIC" envDefault:"caja.transactions"`

	RateLimitPerSecond int   `env:"CAJA_RATE_LIMIT_RPS" envDefault:"25"`
	RateLimitBurst     int   `env:"CAJA_RATE_LIMIT_BURST" envDefault:"50"`
	MaxBodyBytes       int64 `env:"CAJA_MAX_BODY_BYTES" envDefault:"1048576"`
}

// EventsEnabled reports whether the Kafka publisher should be wired.
func (c Config) EventsEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
