package backend

import (
	"context"
	"time"

	"offertory/internal/gateway"
	"offertory/internal/staging"
	"offertory/internal/syncmark"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result is the wired infrastructure: the persistence gateway, the local
// staging store and the spreadsheet transport.
type Result struct {
	Gateway   gateway.Gateway
	Staging   staging.Store
	Transport syncmark.Transport
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Data    BackendType
	Staging BackendType
	Sync    BackendType

	// Memory gateway seed directory
	DataDirectory string

	SQLiteDBPath string
	PostgresDSN  string

	StagingDBPath string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	SyncTimeout              time.Duration
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientJSON    string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string
}

// BackendType names one implementation of a backend concern.
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	RedisBackend    BackendType = "redis"
	WebhookBackend  BackendType = "webhook"
	SheetsBackend   BackendType = "sheets"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValidData reports whether bt can serve the persistence gateway.
func (bt BackendType) IsValidData() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	}
	return false
}

// IsValidStaging reports whether bt can serve the staging store.
func (bt BackendType) IsValidStaging() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, RedisBackend:
		return true
	}
	return false
}

// IsValidSync reports whether bt names a spreadsheet transport.
func (bt BackendType) IsValidSync() bool {
	switch bt {
	case WebhookBackend, SheetsBackend:
		return true
	}
	return false
}
