package backend

import (
	"fmt"

	"offertory/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Data:    BackendType(appConfig.DataBackend),
		Staging: BackendType(appConfig.StagingBackend),
		Sync:    BackendType(appConfig.SyncTransport),

		DataDirectory: appConfig.DataDir,
		SQLiteDBPath:  appConfig.SQLiteDBPath,
		PostgresDSN:   appConfig.PostgresDSN,

		StagingDBPath: appConfig.StagingDBPath,
		RedisAddr:     appConfig.RedisAddr,
		RedisPassword: appConfig.RedisPassword,
		RedisDB:       appConfig.RedisDB,
		RedisPrefix:   appConfig.RedisPrefix,

		SyncTimeout:              appConfig.SyncTimeout,
		GoogleSheetName:          appConfig.GoogleSheetName,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
		GoogleOAuthClientJSON:    appConfig.GoogleOAuthClientJSON,
		GoogleOAuthClientFile:    appConfig.GoogleOAuthClientFile,
		GoogleOAuthTokenFile:     appConfig.GoogleOAuthTokenFile,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Data.IsValidData() {
		return fmt.Errorf("invalid data backend: %s", c.Data)
	}
	if !c.Staging.IsValidStaging() {
		return fmt.Errorf("invalid staging backend: %s", c.Staging)
	}
	if !c.Sync.IsValidSync() {
		return fmt.Errorf("invalid sync transport: %s", c.Sync)
	}

	switch c.Data {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.PostgresDSN == "" {
			return fmt.Errorf("Postgres DSN is required for postgres backend")
		}
	}

	switch c.Staging {
	case SQLiteBackend:
		if c.StagingDBPath == "" {
			return fmt.Errorf("staging database path is required for sqlite staging")
		}
	case RedisBackend:
		if c.RedisAddr == "" {
			return fmt.Errorf("Redis address is required for redis staging")
		}
	}

	return nil
}
