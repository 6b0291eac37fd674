package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultJWTSecret is only acceptable outside production.
const DefaultJWTSecret = "change-me-in-production"

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL    string
	StoreDriver    string
	MigrateOnStart bool

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Security
	JWTSecret           string
	JWTKeys             string
	AuthKeyCacheSeconds int
	RateLimitPerMinute  int

	// Economy
	SessionTimeoutSeconds int
	TrustAgeDays          int
	AnomalyMinSamples     int
	CatalogPath           string

	// Logging
	LogLevel  string
	LogFormat string

	// Channels
	AuditChannel        string
	WalletEventsChannel string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/orangearcade?sslmode=disable"),
		StoreDriver:    getEnv("STORE_DRIVER", "postgres"),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", true),

		// Redis
		RedisURL: getEnv("REDIS_URL", ""),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Security
		JWTSecret:           getEnv("JWT_SECRET", DefaultJWTSecret),
		JWTKeys:             getEnv("JWT_KEYS", ""),
		AuthKeyCacheSeconds: getEnvInt("AUTH_KEY_CACHE_SECONDS", 300),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		// Economy
		SessionTimeoutSeconds: getEnvInt("SESSION_TIMEOUT_SECONDS", 120),
		TrustAgeDays:          getEnvInt("TRUST_AGE_DAYS", 0),
		AnomalyMinSamples:     getEnvInt("ANOMALY_MIN_SAMPLES", 100),
		CatalogPath:           getEnv("CATALOG_PATH", ""),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		// Channels
		AuditChannel:        getEnv("AUDIT_CHANNEL", "abuse_audit"),
		WalletEventsChannel: getEnv("WALLET_EVENTS_CHANNEL", "wallet_events"),
	}
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.IsProduction() {
		if c.JWTSecret == DefaultJWTSecret || c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET must be set in production"))
		}
		if c.StoreDriver == "memory" {
			errs = append(errs, errors.New("memory store is not allowed in production"))
		}
	}
	if c.SessionTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("SESSION_TIMEOUT_SECONDS must be positive"))
	}
	if c.TrustAgeDays < 0 {
		errs = append(errs, errors.New("TRUST_AGE_DAYS must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
