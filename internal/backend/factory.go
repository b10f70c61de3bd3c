package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"offertory/internal/gateway"
	"offertory/internal/gateway/memory"
	gsheet "offertory/internal/sheets/google"
	"offertory/internal/staging"
	"offertory/internal/storage"
	"offertory/internal/syncmark"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend opens the gateway, the staging store and the transport. On
// error everything opened so far is closed again.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	gw, err := f.createGateway(ctx, config)
	if err != nil {
		return nil, err
	}

	store, err := f.createStaging(ctx, config)
	if err != nil {
		gw.Close()
		return nil, err
	}

	transport, err := f.createTransport(ctx, config)
	if err != nil {
		store.Close()
		gw.Close()
		return nil, err
	}

	f.logger.InfoContext(ctx, "Backend ready",
		"data", config.Data.String(),
		"staging", config.Staging.String(),
		"sync", transport.Name())

	return &Result{
		Gateway:   gw,
		Staging:   store,
		Transport: transport,
		Cleanup: func() error {
			return errors.Join(store.Close(), gw.Close())
		},
	}, nil
}

func (f *DefaultFactory) createGateway(ctx context.Context, config Config) (gateway.Gateway, error) {
	switch config.Data {
	case SQLiteBackend:
		repo, err := storage.OpenSQLite(ctx, config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized SQLite gateway", "db_path", config.SQLiteDBPath)
		return repo, nil
	case PostgresBackend:
		repo, err := storage.OpenPostgres(ctx, config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Postgres gateway")
		return repo, nil
	case MemoryBackend:
		dataDir := config.DataDirectory
		if dataDir == "" {
			dataDir = "data"
		}
		f.logger.InfoContext(ctx, "Initialized memory gateway", "data_directory", dataDir)
		return memory.NewFromFiles(dataDir), nil
	default:
		return nil, fmt.Errorf("unsupported data backend: %s", config.Data)
	}
}

func (f *DefaultFactory) createStaging(ctx context.Context, config Config) (staging.Store, error) {
	switch config.Staging {
	case SQLiteBackend:
		store, err := staging.NewSQLiteStore(config.StagingDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite staging: %w", err)
		}
		return store, nil
	case RedisBackend:
		store, err := staging.DialRedis(ctx, config.RedisAddr, config.RedisPassword, config.RedisDB, config.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis staging: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Redis staging", "addr", config.RedisAddr, "prefix", config.RedisPrefix)
		return store, nil
	case MemoryBackend:
		f.logger.WarnContext(ctx, "Memory staging does not survive restarts")
		return staging.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported staging backend: %s", config.Staging)
	}
}

func (f *DefaultFactory) createTransport(ctx context.Context, config Config) (syncmark.Transport, error) {
	switch config.Sync {
	case SheetsBackend:
		cli, err := gsheet.New(ctx, gsheet.Config{
			SheetName:       config.GoogleSheetName,
			CredentialsJSON: config.GoogleServiceAccountJSON,
			CredentialsFile: config.GoogleServiceAccountFile,
			OAuth: gsheet.OAuthConfig{
				ClientJSON: config.GoogleOAuthClientJSON,
				ClientFile: config.GoogleOAuthClientFile,
				TokenFile:  config.GoogleOAuthTokenFile,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		return cli, nil
	case WebhookBackend:
		return syncmark.NewWebhook(config.SyncTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported sync transport: %s", config.Sync)
	}
}
