package infra

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5435"`
	PGUser      string `env:"PGUSER" envDefault:"oddsline"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"oddsline"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"oddsline"`
	PGMaxConns  int    `env:"PG_MAX_CONNS" envDefault:"8"`

	// Migrations
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"db/migrations"`

	// JWT
	JWTSecret       string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTClientExpiry string `env:"JWT_CLIENT_EXPIRY" envDefault:"24h"`
	JWTAdminExpiry  string `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`

	// Server
	APIPort int `env:"API_PORT" envDefault:"3100"`

	// Fixture feed
	FeedBaseURL       string `env:"FEED_BASE_URL" envDefault:"http://localhost:8090"`
	FeedAPIKey        string `env:"FEED_API_KEY"`
	FeedTimeout       string `env:"FEED_TIMEOUT" envDefault:"8s"`
	FeedFailThreshold int    `env:"FEED_FAIL_THRESHOLD" envDefault:"3"`
	FeedResetTimeout  string `env:"FEED_RESET_TIMEOUT" envDefault:"1m"`

	// Scheduler
	SyncInterval  string `env:"SYNC_INTERVAL" envDefault:"5m"`
	SyncAutostart bool   `env:"SYNC_AUTOSTART" envDefault:"true"`
	StaleAfter    string `env:"STALE_AFTER" envDefault:"30m"`

	// Kafka delta mirror
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass (local dev only).
func (c *Config) Validate() error {
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
