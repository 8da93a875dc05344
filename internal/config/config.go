/**
 * @description
 * This package handles the configuration management for the ledger-service. It uses
 * the Viper library to read configuration from environment variables and an optional
 * .env file, then sanitizes the result into a `Config` struct.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	JournalDriverFile     = "file"
	JournalDriverPostgres = "postgres"
	JournalDriverMemory   = "memory"
)

// Config holds all the configuration variables for the ledger-service.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	AppEnv                    string `mapstructure:"APP_ENV"`
	LogLevel                  string `mapstructure:"LOG_LEVEL"`
	JournalDriver             string `mapstructure:"JOURNAL_DRIVER"`
	JournalPath               string `mapstructure:"JOURNAL_PATH"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	PostingRateLimitPerMinute int    `mapstructure:"POSTING_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	LedgerEventsExchange      string `mapstructure:"LEDGER_EVENTS_EXCHANGE"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	TellerJWTSecret           string `mapstructure:"TELLER_JWT_SECRET"`
	TellerTokenTTLMinutes     int    `mapstructure:"TELLER_TOKEN_TTL_MINUTES"`
	CORSAllowedOrigins        string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LockTimeoutSeconds        int    `mapstructure:"LOCK_TIMEOUT_SECONDS"`
	ReconcileSchedule         string `mapstructure:"RECONCILE_SCHEDULE"`
}

// TellerTokenTTL returns the lifetime of teller tokens.
func (c Config) TellerTokenTTL() time.Duration {
	return time.Duration(c.TellerTokenTTLMinutes) * time.Minute
}

// LockTimeout returns how long a posting may wait for its account locks.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// LoadConfig reads configuration from environment variables and an optional .env
// file located in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("JOURNAL_DRIVER", JournalDriverFile)
	viper.SetDefault("JOURNAL_PATH", "data/ledger.jsonl")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ledger:rate_limit")
	viper.SetDefault("POSTING_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("LEDGER_EVENTS_EXCHANGE", "ledger_events")
	viper.SetDefault("TELLER_TOKEN_TTL_MINUTES", 480)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("LOCK_TIMEOUT_SECONDS", 0)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 15m")

	// explicit binds so Unmarshal sees env-only keys
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("APP_ENV")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("JOURNAL_DRIVER")
	_ = viper.BindEnv("JOURNAL_PATH")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("POSTING_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EVENTS_EXCHANGE")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("TELLER_JWT_SECRET")
	_ = viper.BindEnv("TELLER_TOKEN_TTL_MINUTES")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LOCK_TIMEOUT_SECONDS")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")

	// A missing .env file is fine; anything else is reported.
	if readErr := viper.ReadInConfig(); readErr != nil {
		if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(readErr) {
				return config, fmt.Errorf("failed to read config file: %w", readErr)
			}
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.AppEnv = strings.ToLower(strings.TrimSpace(config.AppEnv))
	config.JournalDriver = strings.ToLower(strings.TrimSpace(config.JournalDriver))
	config.JournalPath = strings.TrimSpace(config.JournalPath)
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ledger:rate_limit"
	}
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.TellerJWTSecret = strings.TrimSpace(config.TellerJWTSecret)
	// "off" disables the background reconciliation job
	config.ReconcileSchedule = strings.TrimSpace(config.ReconcileSchedule)
	if strings.EqualFold(config.ReconcileSchedule, "off") {
		config.ReconcileSchedule = ""
	}
	if config.PostingRateLimitPerMinute < 0 {
		config.PostingRateLimitPerMinute = 0
	}
	if config.TellerTokenTTLMinutes <= 0 {
		config.TellerTokenTTLMinutes = 480
	}
	if config.LockTimeoutSeconds < 0 {
		config.LockTimeoutSeconds = 0
	}

	err = config.validate()
	return
}

func (c Config) validate() error {
	switch c.JournalDriver {
	case JournalDriverFile:
		if c.JournalPath == "" {
			return fmt.Errorf("JOURNAL_PATH is required when JOURNAL_DRIVER=%s", JournalDriverFile)
		}
	case JournalDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when JOURNAL_DRIVER=%s", JournalDriverPostgres)
		}
	case JournalDriverMemory:
	default:
		return fmt.Errorf("unsupported JOURNAL_DRIVER %q", c.JournalDriver)
	}

	if c.TellerJWTSecret == "" {
		return fmt.Errorf("TELLER_JWT_SECRET is required")
	}
	if c.InternalAPIKey == "" {
		return fmt.Errorf("INTERNAL_API_KEY is required")
	}
	return nil
}
