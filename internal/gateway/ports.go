// Package gateway defines the contract between the bookkeeping core and the
// hosted relational store that owns donors, offering types, records,
// budgets and settings.
package gateway

import (
	"context"

	"offertory/internal/core"
)

// DefaultRecordLimit bounds ListRecords when neither ids nor an explicit
// limit are given.
const DefaultRecordLimit = 3000

// SettingSyncEndpoint is the settings key holding the spreadsheet endpoint.
const SettingSyncEndpoint = "google_sheet_webhook_url"

// RecordFilter narrows ListRecords. Zero fields do not filter. When IDs is
// set, Year and Month are ignored. A zero Limit means DefaultRecordLimit
// (ignored for id lookups); a negative Limit means no limit.
type RecordFilter struct {
	Year  int
	Month int
	IDs   []string
	Limit int
}

// Ports for the persistence gateway.
type (
	DonorStore interface {
		// ListDonors returns active donors.
		ListDonors(ctx context.Context) ([]core.Donor, error)
		// UpsertDonor creates the donor when ID is empty, otherwise updates it.
		UpsertDonor(ctx context.Context, d core.Donor) (core.Donor, error)
		DeactivateDonor(ctx context.Context, id string) error
	}

	OfferingTypeStore interface {
		// ListOfferingTypes returns active types ordered by code.
		ListOfferingTypes(ctx context.Context) ([]core.OfferingType, error)
		UpsertOfferingType(ctx context.Context, t core.OfferingType) (core.OfferingType, error)
	}

	RecordStore interface {
		// ListRecords returns records newest first.
		ListRecords(ctx context.Context, f RecordFilter) ([]core.OfferingRecord, error)
		// InsertRecords writes the batch atomically and returns the assigned
		// ids in input order. On error nothing was written.
		InsertRecords(ctx context.Context, records []core.OfferingRecord) ([]string, error)
		UpdateRecord(ctx context.Context, r core.OfferingRecord) error
		DeleteRecord(ctx context.Context, id string) error
	}

	BudgetStore interface {
		ListBudgets(ctx context.Context, year int) ([]core.BudgetRecord, error)
		UpsertBudget(ctx context.Context, b core.BudgetRecord) error
	}

	SettingsStore interface {
		// GetSetting reports ok=false when the key has never been set.
		GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
		SetSetting(ctx context.Context, key, value string) error
	}

	// StatsReader exposes the store's pre-aggregated views.
	StatsReader interface {
		// MonthlyTotals returns one row per month that has records.
		MonthlyTotals(ctx context.Context, year int) ([]core.MonthTotal, error)
		// MonthlyTotalsByDonor returns per-day, per-code totals for the
		// donor identified by offering number.
		MonthlyTotalsByDonor(ctx context.Context, offeringNumber string) ([]core.DonorDayTotal, error)
	}

	Gateway interface {
		DonorStore
		OfferingTypeStore
		RecordStore
		BudgetStore
		SettingsStore
		StatsReader
		Close() error
	}
)
