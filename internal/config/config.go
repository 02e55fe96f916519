package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/aristath/backmarket-repricer/internal/domain"
)

// Config holds application configuration.
type Config struct {
	// Server
	Port    int
	DevMode bool

	// Local store
	DatabasePath string

	// Marketplace API
	MarketplaceBaseURL string
	MarketplaceToken   string
	WebhookSecret      string
	JWTSecret          string

	// Rate limits, overridable per bucket class.
	RateLimits domain.RateLimitConfig

	// Probe protocol
	ProbeMinPrice     decimal.Decimal
	DefaultCountry    string
	BuybackMarginRate decimal.Decimal

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables, falling back
// to a .env file if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnvAsInt("PORT", 8001),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		DatabasePath:       getEnv("DATABASE_PATH", "./data/repricer.db"),
		MarketplaceBaseURL: getEnv("MARKETPLACE_BASE_URL", ""),
		MarketplaceToken:   getEnv("MARKETPLACE_API_TOKEN", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RateLimits: domain.RateLimitConfig{
			Global:     domain.BucketSpec{IntervalMS: getEnvAsInt64("RATE_LIMIT_GLOBAL_INTERVAL_MS", 10_000), MaxRequests: getEnvAsInt("RATE_LIMIT_GLOBAL_MAX", 150)},
			Catalog:    domain.BucketSpec{IntervalMS: getEnvAsInt64("RATE_LIMIT_CATALOG_INTERVAL_MS", 10_000), MaxRequests: getEnvAsInt("RATE_LIMIT_CATALOG_MAX", 15)},
			Competitor: domain.BucketSpec{IntervalMS: getEnvAsInt64("RATE_LIMIT_COMPETITOR_INTERVAL_MS", 1_000), MaxRequests: getEnvAsInt("RATE_LIMIT_COMPETITOR_MAX", 2)},
			Care:       domain.BucketSpec{IntervalMS: getEnvAsInt64("RATE_LIMIT_CARE_INTERVAL_MS", 60_000), MaxRequests: getEnvAsInt("RATE_LIMIT_CARE_MAX", 300)},
		},
		ProbeMinPrice:     getEnvAsDecimal("PROBE_MIN_PRICE", decimal.NewFromFloat(1.00)),
		DefaultCountry:    getEnv("DEFAULT_COUNTRY", "FR"),
		BuybackMarginRate: getEnvAsDecimal("BUYBACK_MARGIN_RATE", decimal.NewFromFloat(0.15)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.MarketplaceBaseURL == "" {
		return fmt.Errorf("MARKETPLACE_BASE_URL is required")
	}
	return nil
}

// Helper functions.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
