// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Crypto Pay provider
	CryptoPayToken   string // Crypto-Pay-API-Token header value
	CryptoPayBaseURL string
	RequestTimeout   time.Duration // per-call provider timeout

	// Reconciliation
	PollInterval time.Duration // how often each watch polls the provider
	WatchHorizon time.Duration // overall bound on a single invoice watch
	MinTopup     decimal.Decimal
	MaxTopup     decimal.Decimal
	DefaultAsset string

	// Telegram delivery
	BotToken    string // bot used for outbound user messages
	AdminChatID int64  // operator alert channel

	// Security
	RateLimitRPM int

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultCryptoPayBaseURL = "https://pay.crypt.bot/api"
	DefaultAsset            = "USDT"
	DefaultPollInterval     = 10 * time.Second
	DefaultWatchHorizon     = 300 * time.Second
	DefaultRequestTimeout   = 15 * time.Second
	DefaultRateLimit        = 60
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		CryptoPayToken:   os.Getenv("CRYPTOPAY_TOKEN"),
		CryptoPayBaseURL: getEnv("CRYPTOPAY_BASE_URL", DefaultCryptoPayBaseURL),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),
		PollInterval:     getEnvDuration("POLL_INTERVAL", DefaultPollInterval),
		WatchHorizon:     getEnvDuration("WATCH_HORIZON", DefaultWatchHorizon),
		MinTopup:         getEnvDecimal("MIN_TOPUP", decimal.NewFromInt(1)),
		MaxTopup:         getEnvDecimal("MAX_TOPUP", decimal.NewFromInt(10000)),
		DefaultAsset:     getEnv("DEFAULT_ASSET", DefaultAsset),
		BotToken:         os.Getenv("BOT_TOKEN"),
		AdminChatID:      getEnvInt64("ADMIN_CHAT_ID", 0),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_PER_MIN", int64(DefaultRateLimit))),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.CryptoPayToken == "" {
		return fmt.Errorf("CRYPTOPAY_TOKEN is required")
	}
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.WatchHorizon < c.PollInterval {
		return fmt.Errorf("WATCH_HORIZON must be at least one poll interval")
	}
	if c.MinTopup.Sign() <= 0 {
		return fmt.Errorf("MIN_TOPUP must be positive")
	}
	if c.MaxTopup.Cmp(c.MinTopup) < 0 {
		return fmt.Errorf("MAX_TOPUP must be >= MIN_TOPUP")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare integers are treated as seconds (matches the original deployments)
		if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
