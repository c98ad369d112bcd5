package infra

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all gateway configuration parsed from environment variables.
type Config struct {
	// Scoring service
	ScoringEndpoint  string  `env:"RBA_SCORING_ENDPOINT"`
	FailureThreshold float64 `env:"RBA_FAILURE_THRESHOLD" envDefault:"0.7"`

	// Denial cache
	DenialTTL   string `env:"RBA_DENIAL_TTL" envDefault:"1h"`
	DenialStore string `env:"RBA_DENIAL_STORE" envDefault:"memory"` // memory | redis
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	// Allow-list bound overrides (optional YAML file)
	FieldBoundsFile string `env:"RBA_FIELD_BOUNDS_FILE"`

	// Principal assertion from the upstream IdP
	AssertionSecret string `env:"RBA_ASSERTION_SECRET"`

	// Database (decision audit trail)
	AuditEnabled bool   `env:"RBA_AUDIT_ENABLED" envDefault:"false"`
	DatabaseURL  string `env:"DATABASE_URL"`
	PGHost       string `env:"PGHOST" envDefault:"localhost"`
	PGPort       int    `env:"PGPORT" envDefault:"5432"`
	PGUser       string `env:"PGUSER" envDefault:"rba"`
	PGPassword   string `env:"PGPASSWORD" envDefault:"rba"`
	PGDatabase   string `env:"PGDATABASE" envDefault:"rba"`

	// Kafka decision events
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopic   string `env:"KAFKA_DECISIONS_TOPIC" envDefault:"rba.decisions"`

	// Server
	APIPort int `env:"API_PORT" envDefault:"3200"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration the gateway cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ScoringEndpoint) == "" {
		return fmt.Errorf("RBA_SCORING_ENDPOINT is required")
	}
	if math.IsInf(c.FailureThreshold, 0) || math.IsNaN(c.FailureThreshold) {
		return fmt.Errorf("RBA_FAILURE_THRESHOLD must be a finite number")
	}
	switch c.DenialStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("RBA_DENIAL_STORE must be memory or redis, got %q", c.DenialStore)
	}
	if _, err := time.ParseDuration(c.DenialTTL); err != nil {
		return fmt.Errorf("RBA_DENIAL_TTL: %w", err)
	}
	return nil
}

// DenialTTLDuration returns the parsed denial TTL. Call Validate first.
func (c *Config) DenialTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.DenialTTL)
	return d
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
