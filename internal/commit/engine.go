// Package commit turns the pending entry ledger into committed offering
// records in one all-or-nothing batch, provisioning donors for typed names
// and handing the new record ids to the sync marker.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"offertory/internal/core"
	applog "offertory/internal/log"
	"offertory/internal/metrics"
)

type State int32

const (
	Idle State = iota
	Submitting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrCommitInFlight = errors.New("a commit is already in progress")
	ErrEmptyLedger    = fmt.Errorf("%w: no pending items to commit", core.ErrValidation)
)

// Gateway is the part of the persistence gateway a commit writes through.
type Gateway interface {
	ListDonors(ctx context.Context) ([]core.Donor, error)
	UpsertDonor(ctx context.Context, d core.Donor) (core.Donor, error)
	InsertRecords(ctx context.Context, records []core.OfferingRecord) ([]string, error)
}

type Ledger interface {
	Items() []core.PendingItem
	Settle(ctx context.Context, ids []string) error
}

type SyncMarker interface {
	MarkPending(ctx context.Context, ids []string) error
}

// Event describes a successful commit to Notifier.
type Event struct {
	RecordIDs []string
	Date      core.Date
	Count     int
	Total     core.Money
}

// Notifier is told about successful commits, e.g. to trigger a sync.
type Notifier interface {
	Committed(ctx context.Context, e Event) error
}

// Invalidator drops read caches that a commit makes stale.
type Invalidator interface {
	Invalidate()
}

type Result struct {
	RecordIDs     []string   `json:"recordIds"`
	Date          core.Date  `json:"date"`
	Count         int        `json:"count"`
	Total         core.Money `json:"total"`
	DonorsCreated int        `json:"donorsCreated"`
	// Warning is set when the records were written but follow-up
	// bookkeeping failed.
	Warning string `json:"warning,omitempty"`
}

type Engine struct {
	state       atomic.Int32
	gw          Gateway
	ledger      Ledger
	marker      SyncMarker
	notifier    Notifier
	invalidator Invalidator
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option       { return func(e *Engine) { e.notifier = n } }
func WithInvalidator(i Invalidator) Option { return func(e *Engine) { e.invalidator = i } }
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(gw Gateway, ledger Ledger, marker SyncMarker, opts ...Option) *Engine {
	e := &Engine{
		gw:     gw,
		ledger: ledger,
		marker: marker,
		logger: applog.Component(applog.ComponentCommit),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Commit writes every pending item as a record dated date. Only one commit
// runs at a time; a concurrent call fails with ErrCommitInFlight without
// waiting. When the batch write fails the ledger is left untouched.
func (e *Engine) Commit(ctx context.Context, date core.Date) (Result, error) {
	if !e.state.CompareAndSwap(int32(Idle), int32(Submitting)) {
		e.metrics.CommitFinished(metrics.OutcomeRejected, 0, 0)
		return Result{}, ErrCommitInFlight
	}
	defer e.state.Store(int32(Idle))

	if err := date.Validate(); err != nil {
		e.metrics.CommitFinished(metrics.OutcomeRejected, 0, 0)
		return Result{}, err
	}
	items := e.ledger.Items()
	if len(items) == 0 {
		e.metrics.CommitFinished(metrics.OutcomeRejected, 0, 0)
		return Result{}, ErrEmptyLedger
	}

	start := time.Now()
	res, err := e.submit(ctx, date, items)
	if err != nil {
		e.metrics.CommitFinished(metrics.OutcomeFailure, len(items), time.Since(start))
		e.logger.ErrorContext(ctx, "Commit failed, pending items kept",
			applog.FieldDate, date.String(),
			applog.FieldCount, len(items),
			applog.FieldError, err)
		return Result{}, err
	}
	e.metrics.CommitFinished(metrics.OutcomeSuccess, res.Count, time.Since(start))

	e.afterCommit(ctx, items, &res)

	e.logger.InfoContext(ctx, "Offerings committed",
		applog.FieldOperation, applog.OpCommit,
		applog.FieldDate, date.String(),
		applog.FieldCount, res.Count,
		applog.FieldAmountCents, res.Total.Cents)
	return res, nil
}

// submit resolves donors and writes the batch. Nothing in the ledger or the
// sync marker is touched here.
func (e *Engine) submit(ctx context.Context, date core.Date, items []core.PendingItem) (Result, error) {
	resolved, created, err := e.resolveDonors(ctx, items)
	if err != nil {
		return Result{}, err
	}

	records := make([]core.OfferingRecord, len(items))
	var total core.Money
	for i, it := range items {
		r := core.OfferingRecord{
			Date:           date,
			DonorID:        it.DonorID,
			DonorName:      it.DonorName,
			OfferingNumber: it.OfferingNumber,
			Code:           it.Code,
			CodeLabel:      it.CodeLabel,
			Amount:         it.Amount,
			Note:           it.Note,
		}
		if r.DonorID == "" {
			if d, ok := resolved[strings.TrimSpace(it.DonorName)]; ok {
				r.DonorID = d.ID
				if r.OfferingNumber == "" {
					r.OfferingNumber = d.OfferingNumber
				}
			}
		}
		if err := r.Validate(); err != nil {
			return Result{}, fmt.Errorf("item %s: %w", it.ID, err)
		}
		records[i] = r
		total = total.Add(r.Amount)
	}

	ids, err := e.gw.InsertRecords(ctx, records)
	if err != nil {
		return Result{}, core.Persistence("insert records", err)
	}
	if len(ids) != len(records) {
		e.logger.WarnContext(ctx, "Gateway returned an unexpected number of ids",
			"sent", len(records), "returned", len(ids))
	}

	return Result{
		RecordIDs:     ids,
		Date:          date,
		Count:         len(records),
		Total:         total,
		DonorsCreated: created,
	}, nil
}

// resolveDonors maps each typed, non-anonymous donor name without an id to
// an active donor with exactly that name, creating one when none exists.
// Each distinct name is resolved once per commit.
func (e *Engine) resolveDonors(ctx context.Context, items []core.PendingItem) (map[string]core.Donor, int, error) {
	var names []string
	seen := map[string]struct{}{}
	for _, it := range items {
		name := strings.TrimSpace(it.DonorName)
		if it.DonorID != "" || name == "" || name == core.AnonymousName {
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	resolved := make(map[string]core.Donor, len(names))
	if len(names) == 0 {
		return resolved, 0, nil
	}

	donors, err := e.gw.ListDonors(ctx)
	if err != nil {
		return nil, 0, core.Persistence("list donors", err)
	}
	for _, d := range donors {
		name := strings.TrimSpace(d.Name)
		if _, want := seen[name]; !want || !d.Active {
			continue
		}
		if _, dup := resolved[name]; !dup {
			resolved[name] = d
		}
	}

	created := 0
	for _, name := range names {
		if _, ok := resolved[name]; ok {
			continue
		}
		d, err := e.gw.UpsertDonor(ctx, core.Donor{Name: name, Active: true})
		if err != nil {
			return nil, created, core.Persistence("create donor", err)
		}
		resolved[name] = d
		created++
		e.metrics.DonorCreated()
		e.logger.InfoContext(ctx, "Donor created from typed name", applog.FieldDonorName, name)
	}
	return resolved, created, nil
}

// afterCommit settles the ledger and registers the new ids for sync. The
// records already exist, so failures here are reported as warnings.
func (e *Engine) afterCommit(ctx context.Context, items []core.PendingItem, res *Result) {
	var warnings []string

	itemIDs := make([]string, len(items))
	for i, it := range items {
		itemIDs[i] = it.ID
	}
	if err := e.ledger.Settle(ctx, itemIDs); err != nil {
		warnings = append(warnings, "pending items could not be cleared from local staging")
		e.logger.ErrorContext(ctx, "Failed to settle committed items", applog.FieldError, err)
	}

	if err := e.marker.MarkPending(ctx, res.RecordIDs); err != nil {
		warnings = append(warnings, "new records could not be queued for spreadsheet sync")
		e.logger.ErrorContext(ctx, "Failed to mark records for sync",
			applog.FieldCount, len(res.RecordIDs), applog.FieldError, err)
	}

	if e.invalidator != nil {
		e.invalidator.Invalidate()
	}

	if e.notifier != nil {
		ev := Event{RecordIDs: res.RecordIDs, Date: res.Date, Count: res.Count, Total: res.Total}
		if err := e.notifier.Committed(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "Failed to publish commit event", applog.FieldError, err)
		}
	}

	res.Warning = strings.Join(warnings, "; ")
}
