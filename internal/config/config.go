package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Storage backend selection
	DataBackend  string
	SQLiteDBPath string
	PostgresDSN  string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Sessions
	SessionCookieName     string
	SessionLifetime       time.Duration
	SessionRotateAfter    time.Duration
	SessionRotateGrace    time.Duration
	SessionPurgeRetention time.Duration

	// Authentication
	AuthMinDuration time.Duration

	// Google Sheets ledger export
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Worker
	SyncBatchSize int
	SyncInterval  time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/tally.db"),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "tally"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "expense_sync"),

		SessionCookieName:     getEnv("SESSION_COOKIE_NAME", "tally_session"),
		SessionLifetime:       getEnvDuration("SESSION_LIFETIME", 30*24*time.Hour),
		SessionRotateAfter:    getEnvDuration("SESSION_ROTATE_AFTER", 48*time.Hour),
		SessionRotateGrace:    getEnvDuration("SESSION_ROTATE_GRACE", 30*time.Second),
		SessionPurgeRetention: getEnvDuration("SESSION_PURGE_RETENTION", 90*24*time.Hour),

		AuthMinDuration: getEnvDuration("AUTH_MIN_DURATION", 5*time.Second),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", ""),

		SyncBatchSize: getEnvInt("SYNC_BATCH_SIZE", 10),
		SyncInterval:  getEnvDuration("SYNC_INTERVAL", 30*time.Second),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errors = append(errors, "POSTGRES_DSN cannot be empty when using postgres backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [sqlite postgres]", c.DataBackend))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SessionCookieName == "" {
		errors = append(errors, "session cookie name cannot be empty")
	}
	if c.SessionLifetime < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session lifetime %v: must be at least 1 minute", c.SessionLifetime))
	}
	if c.SessionRotateAfter <= 0 || c.SessionRotateAfter >= c.SessionLifetime {
		errors = append(errors, fmt.Sprintf("invalid rotation threshold %v: must be positive and shorter than the session lifetime", c.SessionRotateAfter))
	}
	if c.SessionRotateGrace <= 0 || c.SessionRotateGrace > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid rotation grace %v: must be positive and at most 1 hour", c.SessionRotateGrace))
	}
	if c.SessionPurgeRetention < 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid purge retention %v: must be at least 24 hours", c.SessionPurgeRetention))
	}

	if c.AuthMinDuration < 0 || c.AuthMinDuration > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid auth minimum duration %v: must be between 0 and 1 minute", c.AuthMinDuration))
	}

	// Validate sheets export configuration if enabled
	if c.GoogleSpreadsheetID != "" && c.GoogleSheetName == "" {
		errors = append(errors, "GOOGLE_SHEET_NAME is required when GOOGLE_SPREADSHEET_ID is set")
	}

	// Validate worker configuration
	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
