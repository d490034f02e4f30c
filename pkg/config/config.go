// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dhfinance/pkg/ledger"
)

const devJWTSecret = "dev-insecure-secret-change"

type Config struct {
	// HTTP
	Port    string
	GinMode string

	LogLevel string

	// Database
	DBDriver      string
	DBDSN         string
	SQLitePath    string
	DBAutoMigrate bool

	// Auth
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AdminPassword   string

	// Proof uploads
	UploadBase       string
	UploadMaxBytes   int64
	OCREnabled       bool
	OCRMinConfidence float64

	// AMQP, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Exports
	NumberFormat string
	ExportPrefix string

	DemoSeed bool
}

// LoadDotEnv loads ./.env (or the given files) without overriding variables
// already present. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8081"),
		GinMode:  getEnv("GIN_MODE", "release"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBDSN:         getEnv("DB_DSN", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "./data/dhfinance.db"),
		DBAutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),

		JWTSecret:       getEnv("JWT_SECRET", devJWTSecret),
		AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		AdminPassword:   getEnv("ADMIN_PASSWORD", ""),

		UploadBase:       getEnv("UPLOAD_BASE", "uploads"),
		UploadMaxBytes:   int64(getEnvInt("UPLOAD_MAX_BYTES", 5*1024*1024)),
		OCREnabled:       getEnvBool("OCR_ENABLED", false),
		OCRMinConfidence: getEnvFloat("OCR_MIN_CONFIDENCE", 0.15),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "dhfinance"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		NumberFormat: getEnv("NUMBER_FORMAT", "international"),
		ExportPrefix: getEnv("EXPORT_PREFIX", ledger.DefaultFilePrefix),

		DemoSeed: getEnvBool("DEMO_SEED", false),
	}
}

// UsesDevSecret reports whether JWT_SECRET was left at the development value.
func (c *Config) UsesDevSecret() bool {
	return c.JWTSecret == devJWTSecret
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DBDriver {
	case "postgres":
		if strings.TrimSpace(c.DBDSN) == "" {
			errs = append(errs, "DB_DSN is required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, "SQLITE_PATH cannot be empty when DB_DRIVER=sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid DB_DRIVER '%s': must be postgres or sqlite", c.DBDriver))
	}

	if len(c.JWTSecret) < 16 {
		errs = append(errs, "JWT_SECRET must be at least 16 characters")
	}
	if c.AccessTokenTTL < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid ACCESS_TOKEN_TTL %v: must be at least 1 minute", c.AccessTokenTTL))
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		errs = append(errs, "REFRESH_TOKEN_TTL must not be shorter than ACCESS_TOKEN_TTL")
	}

	if c.UploadMaxBytes < 1 {
		errs = append(errs, fmt.Sprintf("invalid UPLOAD_MAX_BYTES %d", c.UploadMaxBytes))
	}
	if c.OCRMinConfidence < 0 || c.OCRMinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("invalid OCR_MIN_CONFIDENCE %v: must be between 0 and 1", c.OCRMinConfidence))
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" || c.AMQPQueue == "" {
			errs = append(errs, "AMQP_EXCHANGE and AMQP_QUEUE are required when AMQP_URL is set")
		}
	}

	if _, err := ledger.ParseNumberFormat(c.NumberFormat); err != nil {
		errs = append(errs, err.Error())
	}
	if strings.ContainsAny(c.ExportPrefix, `/\ `) {
		errs = append(errs, fmt.Sprintf("invalid EXPORT_PREFIX '%s'", c.ExportPrefix))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool treats false/0/no/off as false, any other non-empty value as true.
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return defaultValue
	case "false", "0", "no", "off":
		return false
	}
	return true
}
