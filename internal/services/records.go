// Package services holds the operations behind record browsing, donor and
// catalog maintenance, budgets and the background sync loop.
package services

import (
	"context"
	"errors"
	"log/slog"

	"offertory/internal/core"
	"offertory/internal/gateway"
	"offertory/internal/log"
)

// PendingMarker forgets records that no longer need an external sync.
type PendingMarker interface {
	Unmark(ctx context.Context, ids []string) error
}

// Invalidator drops read caches after a write.
type Invalidator interface {
	Invalidate()
}

// RecordService browses and edits committed offering records.
type RecordService struct {
	records     gateway.RecordStore
	marker      PendingMarker
	invalidator Invalidator
	logger      *slog.Logger
}

func NewRecordService(records gateway.RecordStore, marker PendingMarker, invalidator Invalidator) *RecordService {
	return &RecordService{
		records:     records,
		marker:      marker,
		invalidator: invalidator,
		logger:      log.Component(log.ComponentStorage),
	}
}

func (s *RecordService) List(ctx context.Context, f gateway.RecordFilter) ([]core.OfferingRecord, error) {
	if f.Month < 0 || f.Month > 12 {
		return nil, core.ErrInvalidDate
	}
	recs, err := s.records.ListRecords(ctx, f)
	if err != nil {
		s.logger.ErrorContext(ctx, "List records failed",
			log.FieldYear, f.Year, log.FieldMonth, f.Month, log.FieldError, err)
		return nil, core.Persistence("list records", err)
	}
	return recs, nil
}

// Update rewrites one record. The category label is refreshed from the
// catalog by the gateway.
func (s *RecordService) Update(ctx context.Context, r core.OfferingRecord) error {
	if r.ID == "" {
		return core.ErrNotFound
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.records.UpdateRecord(ctx, r); err != nil {
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrValidation) {
			return err
		}
		return core.Persistence("update record", err)
	}
	s.invalidate()
	s.logger.InfoContext(ctx, "Record updated",
		log.FieldRecordID, r.ID, log.FieldAmountCents, r.Amount.Cents)
	return nil
}

// Delete removes a record and drops it from the pending sync set.
func (s *RecordService) Delete(ctx context.Context, id string) error {
	if err := s.records.DeleteRecord(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return err
		}
		return core.Persistence("delete record", err)
	}
	s.invalidate()

	if s.marker != nil {
		if err := s.marker.Unmark(ctx, []string{id}); err != nil {
			// The record is gone; a stale pending id is dropped on the next sync.
			s.logger.WarnContext(ctx, "Failed to unmark deleted record",
				log.FieldRecordID, id, log.FieldError, err)
		}
	}

	s.logger.InfoContext(ctx, "Record deleted", log.FieldRecordID, id)
	return nil
}

func (s *RecordService) invalidate() {
	if s.invalidator != nil {
		s.invalidator.Invalidate()
	}
}
