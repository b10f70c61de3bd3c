package syncmark

import (
	"context"
	"log/slog"
	"strings"

	"offertory/internal/core"
	"offertory/internal/gateway"
	applog "offertory/internal/log"
	"offertory/internal/staging"
)

// EndpointCacheKey is the staging key of the locally cached endpoint.
const EndpointCacheKey = "sync_endpoint"

// EndpointStore resolves the sync endpoint from the gateway settings, keeping
// a local copy to fall back on when the gateway cannot be read.
type EndpointStore struct {
	settings gateway.SettingsStore
	local    staging.Store
	logger   *slog.Logger
}

func NewEndpointStore(settings gateway.SettingsStore, local staging.Store) *EndpointStore {
	return &EndpointStore{
		settings: settings,
		local:    local,
		logger:   applog.Component(applog.ComponentSync),
	}
}

// Get returns the configured endpoint or "" when none is set.
func (e *EndpointStore) Get(ctx context.Context) (string, error) {
	v, ok, err := e.settings.GetSetting(ctx, gateway.SettingSyncEndpoint)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to read sync endpoint, using cached copy", applog.FieldError, err)
		cached, _, cerr := e.local.Get(ctx, EndpointCacheKey)
		if cerr != nil {
			return "", core.Persistence("read sync endpoint", err)
		}
		return strings.TrimSpace(string(cached)), nil
	}
	if !ok {
		return "", nil
	}
	v = strings.TrimSpace(v)
	if err := e.local.Set(ctx, EndpointCacheKey, []byte(v)); err != nil {
		e.logger.WarnContext(ctx, "Failed to cache sync endpoint", applog.FieldError, err)
	}
	return v, nil
}

// Set trims and stores the endpoint remotely and in the local cache. The
// local copy is written even when the remote write fails.
func (e *EndpointStore) Set(ctx context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	remoteErr := e.settings.SetSetting(ctx, gateway.SettingSyncEndpoint, endpoint)
	if err := e.local.Set(ctx, EndpointCacheKey, []byte(endpoint)); err != nil {
		e.logger.WarnContext(ctx, "Failed to cache sync endpoint", applog.FieldError, err)
	}
	if remoteErr != nil {
		e.logger.ErrorContext(ctx, "Failed to save sync endpoint", applog.FieldError, remoteErr)
		return core.Persistence("save sync endpoint", remoteErr)
	}
	return nil
}
