package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by DATA_BACKEND, STAGING_BACKEND and SYNC_TRANSPORT.
var (
	DataBackends    = []string{"memory", "sqlite", "postgres"}
	StagingBackends = []string{"memory", "sqlite", "redis"}
	SyncTransports  = []string{"webhook", "sheets"}
)

type Config struct {
	// HTTP Server
	Port     string
	LogLevel string

	// Persistence gateway
	DataBackend  string
	DataDir      string
	SQLiteDBPath string
	PostgresDSN  string

	// Local staging for pending items and pending sync ids
	StagingBackend string
	StagingDBPath  string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Spreadsheet sync
	SyncTransport            string
	SyncTimeout              time.Duration
	SyncInterval             time.Duration
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientJSON    string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string

	// Report cache
	CacheTTL time.Duration
}

func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8081"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/offertory.db"),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),

		StagingBackend: getEnv("STAGING_BACKEND", "sqlite"),
		StagingDBPath:  getEnv("STAGING_DB_PATH", "./data/staging.db"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisPrefix:    getEnv("REDIS_PREFIX", "offertory:"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "offertory"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "offerings_committed"),

		SyncTransport:            getEnv("SYNC_TRANSPORT", "webhook"),
		SyncTimeout:              getEnvDuration("SYNC_TIMEOUT", 15*time.Second),
		SyncInterval:             getEnvDuration("SYNC_INTERVAL", 5*time.Minute),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Offerings"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleOAuthClientJSON:    getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthClientFile:    getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:     getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),
	}
}

// Validate validates the configuration and returns every problem at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if !slices.Contains(DataBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, DataBackends))
	}
	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if msg := ensureDir(c.SQLiteDBPath); msg != "" {
			errors = append(errors, msg)
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errors = append(errors, "POSTGRES_DSN is required when using postgres backend")
		}
	}

	if !slices.Contains(StagingBackends, c.StagingBackend) {
		errors = append(errors, fmt.Sprintf("invalid staging backend '%s': must be one of %v", c.StagingBackend, StagingBackends))
	}
	switch c.StagingBackend {
	case "sqlite":
		if c.StagingDBPath == "" {
			errors = append(errors, "staging database path cannot be empty when using sqlite staging")
		} else if msg := ensureDir(c.StagingDBPath); msg != "" {
			errors = append(errors, msg)
		}
	case "redis":
		if c.RedisAddr == "" {
			errors = append(errors, "REDIS_ADDR is required when using redis staging")
		}
		if c.RedisDB < 0 {
			errors = append(errors, fmt.Sprintf("invalid redis db %d: must not be negative", c.RedisDB))
		}
	}

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
		// With AMQP the sync worker runs in another process and must read
		// the server's records and pending-sync set.
		if c.DataBackend == "memory" {
			errors = append(errors, "AMQP requires a shared data backend (sqlite or postgres), not memory")
		}
		if c.StagingBackend == "memory" {
			errors = append(errors, "AMQP requires a shared staging backend (sqlite or redis), not memory")
		}
	}

	if !slices.Contains(SyncTransports, c.SyncTransport) {
		errors = append(errors, fmt.Sprintf("invalid sync transport '%s': must be one of %v", c.SyncTransport, SyncTransports))
	}
	if c.SyncTransport == "sheets" {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when using sheets transport")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
		if c.GoogleOAuthTokenFile != "" && c.GoogleOAuthClientJSON == "" && c.GoogleOAuthClientFile == "" {
			errors = append(errors, "GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE is required with GOOGLE_OAUTH_TOKEN_FILE")
		}
	}

	if c.SyncTimeout < time.Second || c.SyncTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid sync timeout %v: must be between 1s and 5m", c.SyncTimeout))
	}
	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}
	if c.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache ttl %v: must not be negative", c.CacheTTL))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ensureDir creates the parent directory of path and returns a problem
// description when that fails.
func ensureDir(path string) string {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return ""
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Sprintf("cannot create database directory '%s': %v", dir, err)
		}
	}
	return ""
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
