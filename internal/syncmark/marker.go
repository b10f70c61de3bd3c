// Package syncmark tracks committed records that have not yet been mirrored
// to the external spreadsheet and drives their transmission.
package syncmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"offertory/internal/core"
	"offertory/internal/gateway"
	applog "offertory/internal/log"
	"offertory/internal/metrics"
	"offertory/internal/staging"
)

// StagingKey is where the pending id set is kept.
const StagingKey = "pending_sync_ids"

// LeaseKey names the lease held by whichever process is transmitting.
const LeaseKey = "sync_lease"

// DefaultLease bounds one transmission; it must outlast the transport timeout.
const DefaultLease = 2 * time.Minute

var (
	ErrNoEndpoint     = fmt.Errorf("%w: no spreadsheet endpoint configured", core.ErrSyncConfiguration)
	ErrNothingPending = fmt.Errorf("%w: no records awaiting sync", core.ErrSyncConfiguration)
	// ErrSyncInFlight means another process sharing the staging store is
	// transmitting right now.
	ErrSyncInFlight = errors.New("spreadsheet sync already in progress")
)

// Delivery is what a transport could learn about a transmission.
type Delivery struct {
	StatusCode int
	// Confirmed is true only when the receiver acknowledged the write.
	Confirmed bool
}

// Transport sends rows to the spreadsheet at endpoint in one call.
type Transport interface {
	Name() string
	Send(ctx context.Context, endpoint string, rows []Row) (Delivery, error)
}

// RecordLoader fetches records by id for SyncPending.
type RecordLoader interface {
	ListRecords(ctx context.Context, f gateway.RecordFilter) ([]core.OfferingRecord, error)
}

type Result struct {
	Sent       int  `json:"sent"`
	Confirmed  bool `json:"confirmed"`
	StatusCode int  `json:"statusCode,omitempty"`
	Remaining  int  `json:"remaining"`
}

type Marker struct {
	syncMu    sync.Mutex // serializes transmissions in this process
	lease     time.Duration
	store     staging.Store
	endpoints *EndpointStore
	transport Transport
	records   RecordLoader
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Marker)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mk *Marker) { mk.metrics = m }
}

// WithLease overrides DefaultLease.
func WithLease(d time.Duration) Option {
	return func(mk *Marker) {
		if d > 0 {
			mk.lease = d
		}
	}
}

func New(store staging.Store, endpoints *EndpointStore, transport Transport, records RecordLoader, opts ...Option) *Marker {
	m := &Marker{
		store:     store,
		endpoints: endpoints,
		transport: transport,
		records:   records,
		lease:     DefaultLease,
		logger:    applog.Component(applog.ComponentSync),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MarkPending adds ids to the pending set.
func (m *Marker) MarkPending(ctx context.Context, ids []string) error {
	var add []string
	for _, id := range ids {
		if id != "" {
			add = append(add, id)
		}
	}
	if len(add) == 0 {
		return nil
	}
	if err := m.store.AddMembers(ctx, StagingKey, add...); err != nil {
		m.logger.ErrorContext(ctx, "Failed to stage pending sync ids", applog.FieldError, err)
		return fmt.Errorf("stage pending sync ids: %w", err)
	}
	m.refreshGauge(ctx)
	return nil
}

// PendingIDs returns the pending ids, numeric ids first in numeric order.
func (m *Marker) PendingIDs(ctx context.Context) ([]string, error) {
	ids, err := m.store.Members(ctx, StagingKey)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to read pending sync ids", applog.FieldError, err)
		return nil, fmt.Errorf("load pending sync ids: %w", err)
	}
	sortIDs(ids)
	return ids, nil
}

// Unmark removes ids from the pending set.
func (m *Marker) Unmark(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.store.RemoveMembers(ctx, StagingKey, ids...); err != nil {
		m.logger.ErrorContext(ctx, "Failed to clear pending sync ids", applog.FieldError, err)
		return fmt.Errorf("clear pending sync ids: %w", err)
	}
	m.refreshGauge(ctx)
	return nil
}

func (m *Marker) refreshGauge(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	if ids, err := m.store.Members(ctx, StagingKey); err == nil {
		m.metrics.SetPendingSync(len(ids))
	}
}

// acquire takes the cross-process sync lease. The returned func releases it.
func (m *Marker) acquire(ctx context.Context) (func(), error) {
	token, ok, err := m.store.TryLock(ctx, LeaseKey, m.lease)
	if err != nil {
		return nil, fmt.Errorf("take sync lease: %w", err)
	}
	if !ok {
		return nil, ErrSyncInFlight
	}
	return func() {
		// The lease expires on its own if this fails.
		if err := m.store.Unlock(context.WithoutCancel(ctx), LeaseKey, token); err != nil {
			m.logger.WarnContext(ctx, "Failed to release sync lease", applog.FieldError, err)
		}
	}, nil
}

// Sync transmits the pending records among records in one call. Records that
// are not pending are ignored. On transport failure the pending set is left
// as it was; on success the transmitted ids are cleared.
func (m *Marker) Sync(ctx context.Context, records []core.OfferingRecord) (Result, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	endpoint, err := m.endpoint(ctx)
	if err != nil {
		return Result{}, err
	}
	release, err := m.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	pending, err := m.PendingIDs(ctx)
	if err != nil {
		return Result{}, err
	}
	return m.transmit(ctx, endpoint, pending, records)
}

// SyncPending loads every pending record from the gateway and transmits it.
// Pending ids whose record no longer exists are dropped.
func (m *Marker) SyncPending(ctx context.Context) (Result, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	endpoint, err := m.endpoint(ctx)
	if err != nil {
		return Result{}, err
	}
	release, err := m.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	pending, err := m.PendingIDs(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(pending) == 0 {
		m.metrics.SyncFinished(metrics.OutcomeRejected, 0)
		return Result{}, ErrNothingPending
	}

	records, err := m.records.ListRecords(ctx, gateway.RecordFilter{IDs: pending})
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to load pending records", applog.FieldError, err)
		return Result{}, core.Persistence("load pending records", err)
	}

	found := make(map[string]struct{}, len(records))
	for _, r := range records {
		found[r.ID] = struct{}{}
	}
	var stale []string
	for _, id := range pending {
		if _, ok := found[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		m.logger.WarnContext(ctx, "Dropping pending ids with no record", applog.FieldCount, len(stale))
		if err := m.Unmark(ctx, stale); err != nil {
			return Result{}, err
		}
	}

	return m.transmit(ctx, endpoint, pending, records)
}

func (m *Marker) endpoint(ctx context.Context) (string, error) {
	endpoint, err := m.endpoints.Get(ctx)
	if err != nil {
		return "", err
	}
	if endpoint == "" {
		m.metrics.SyncFinished(metrics.OutcomeRejected, 0)
		return "", ErrNoEndpoint
	}
	return endpoint, nil
}

// transmit sends the records whose id is in pending; callers hold syncMu
// and the sync lease.
func (m *Marker) transmit(ctx context.Context, endpoint string, pending []string, records []core.OfferingRecord) (Result, error) {
	isPending := make(map[string]struct{}, len(pending))
	for _, id := range pending {
		isPending[id] = struct{}{}
	}

	var (
		rows []Row
		sent []string
	)
	for _, r := range records {
		if _, ok := isPending[r.ID]; !ok {
			continue
		}
		rows = append(rows, RowFromRecord(r))
		sent = append(sent, r.ID)
	}
	if len(rows) == 0 {
		m.metrics.SyncFinished(metrics.OutcomeRejected, 0)
		return Result{}, ErrNothingPending
	}

	delivery, err := m.transport.Send(ctx, endpoint, rows)
	if err != nil {
		m.metrics.SyncFinished(metrics.OutcomeFailure, 0)
		m.logger.ErrorContext(ctx, "Spreadsheet sync failed",
			applog.FieldTransport, m.transport.Name(),
			applog.FieldCount, len(rows),
			applog.FieldError, err)
		if !errors.Is(err, core.ErrSyncTransport) {
			err = fmt.Errorf("%w: %w", core.ErrSyncTransport, err)
		}
		return Result{}, err
	}

	if err := m.Unmark(ctx, sent); err != nil {
		// The rows went out; only the bookkeeping failed. A retry would
		// duplicate them in the spreadsheet.
		m.logger.ErrorContext(ctx, "Failed to clear synced ids", applog.FieldCount, len(sent), applog.FieldError, err)
		return Result{}, err
	}

	outcome := metrics.OutcomeSuccess
	if !delivery.Confirmed {
		outcome = metrics.OutcomeUnconfirmed
	}
	m.metrics.SyncFinished(outcome, len(rows))

	remaining, _ := m.PendingIDs(ctx)
	res := Result{
		Sent:       len(rows),
		Confirmed:  delivery.Confirmed,
		StatusCode: delivery.StatusCode,
		Remaining:  len(remaining),
	}
	m.logger.InfoContext(ctx, "Records synced to spreadsheet",
		applog.FieldTransport, m.transport.Name(),
		applog.FieldCount, res.Sent,
		applog.FieldConfirmed, res.Confirmed,
		applog.FieldPending, res.Remaining)
	return res, nil
}

// sortIDs puts numeric ids first in numeric order, then the rest lexically.
func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		ad, bd := isDigits(a), isDigits(b)
		switch {
		case ad && bd && len(a) != len(b):
			return len(a) < len(b)
		case ad != bd:
			return ad
		}
		return a < b
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
