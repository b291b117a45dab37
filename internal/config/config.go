// Package config loads process settings from ASSOCMAIL_-prefixed environment
// variables, optionally seeded from a .env file.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when reading the environment.
const EnvPrefix = "ASSOCMAIL"

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all settings for the server process.
type Config struct {
	Env            string `mapstructure:"ENV"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	Addr           string `mapstructure:"ADDR"`
	DBDriver       string `mapstructure:"DB_DRIVER"`
	SQLitePath     string `mapstructure:"SQLITE_PATH"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	ResendKey      string `mapstructure:"RESEND_KEY"`
	EmailFrom      string `mapstructure:"EMAIL_FROM"`
	ReplyTo        string `mapstructure:"REPLY_TO"`
	AdminKeyHash   string `mapstructure:"ADMIN_KEY_HASH"`
	CSRFKey        string `mapstructure:"CSRF_KEY"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`
	EventsQueue    string `mapstructure:"EVENTS_QUEUE"`
	QueueSchedule  string `mapstructure:"QUEUE_SCHEDULE"`
	SweepSchedule  string `mapstructure:"SWEEP_SCHEDULE"`
	QueueBatchSize int    `mapstructure:"QUEUE_BATCH_SIZE"`
	MaxRetries     int    `mapstructure:"MAX_RETRIES"`
	Timezone       string `mapstructure:"TIMEZONE"`
	SeedDefaults   bool   `mapstructure:"SEED_DEFAULTS"`
}

var defaults = map[string]any{
	"ENV":              "development",
	"LOG_LEVEL":        "info",
	"ADDR":             ":8080",
	"DB_DRIVER":        DriverSQLite,
	"SQLITE_PATH":      "assocmail.db",
	"DATABASE_URL":     "",
	"RESEND_KEY":       "",
	"EMAIL_FROM":       "Association <noreply@example.org>",
	"REPLY_TO":         "",
	"ADMIN_KEY_HASH":   "",
	"CSRF_KEY":         "",
	"REDIS_URL":        "",
	"RABBITMQ_URL":     "",
	"EVENTS_EXCHANGE":  "member.events",
	"EVENTS_QUEUE":     "assocmail.member-events",
	"QUEUE_SCHEDULE":   "@every 1m",
	"SWEEP_SCHEDULE":   "0 8 * * *",
	"QUEUE_BATCH_SIZE": 50,
	"MAX_RETRIES":      3,
	"TIMEZONE":         "Europe/Madrid",
	"SEED_DEFAULTS":    true,
}

// Load reads .env if present, then the environment, and validates the result.
// PRE: none
// POST: Returns a validated Config or an error naming the offending key
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for key, value := range defaults {
		viper.SetDefault(key, value)
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver))
	}
	if c.QueueBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_BATCH_SIZE must be positive, got %d", c.QueueBatchSize))
	}
	if c.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be positive, got %d", c.MaxRetries))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		errs = append(errs, fmt.Errorf("TIMEZONE %q is not a known zone", c.Timezone))
	}
	if c.CSRFKey != "" {
		if b, err := hex.DecodeString(c.CSRFKey); err != nil || len(b) != 32 {
			errs = append(errs, errors.New("CSRF_KEY must be 64 hex characters"))
		}
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone.
// PRE: Validate returned nil
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CSRFKeyBytes decodes CSRF_KEY. It returns nil when unset.
func (c *Config) CSRFKeyBytes() []byte {
	b, err := hex.DecodeString(c.CSRFKey)
	if err != nil || len(b) != 32 {
		return nil
	}
	return b
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
