package report

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"offertory/internal/cache"
	"offertory/internal/core"
	"offertory/internal/gateway"
	applog "offertory/internal/log"
)

// Reader is the slice of the gateway the reports read from.
type Reader interface {
	ListRecords(ctx context.Context, f gateway.RecordFilter) ([]core.OfferingRecord, error)
	ListOfferingTypes(ctx context.Context) ([]core.OfferingType, error)
	ListBudgets(ctx context.Context, year int) ([]core.BudgetRecord, error)
	MonthlyTotals(ctx context.Context, year int) ([]core.MonthTotal, error)
	MonthlyTotalsByDonor(ctx context.Context, offeringNumber string) ([]core.DonorDayTotal, error)
}

// Service loads report inputs from the gateway, fetching independent inputs
// concurrently. Monthly totals are cached until the next record write.
type Service struct {
	src    Reader
	totals *cache.LRU[[]core.MonthTotal]
	logger *slog.Logger
}

func NewService(src Reader, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{
		src:    src,
		totals: cache.NewLRU[[]core.MonthTotal](32, ttl),
		logger: applog.Component(applog.ComponentReport),
	}
}

// Cache exposes the totals cache so it can be swept.
func (s *Service) Cache() cache.Cleaner { return s.totals }

// Invalidate drops cached aggregates; call it after any record write.
func (s *Service) Invalidate() {
	s.totals.Purge()
}

// MonthlyTotals returns the pre-aggregated totals for year. The slice is the
// caller's own copy.
func (s *Service) MonthlyTotals(ctx context.Context, year int) ([]core.MonthTotal, error) {
	key := "totals:" + strconv.Itoa(year)
	if v, ok := s.totals.Get(key); ok {
		return slices.Clone(v), nil
	}
	v, err := s.src.MonthlyTotals(ctx, year)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load monthly totals", applog.FieldYear, year, applog.FieldError, err)
		return nil, core.Persistence("monthly totals", err)
	}
	s.totals.Set(key, v)
	return slices.Clone(v), nil
}

// Day is the weekly report for one date.
func (s *Service) Day(ctx context.Context, date core.Date) ([]CodeSummary, error) {
	if err := date.Validate(); err != nil {
		return nil, err
	}
	records, err := s.src.ListRecords(ctx, gateway.RecordFilter{Year: date.Year(), Month: date.Month(), Limit: -1})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load records", applog.FieldDate, date.String(), applog.FieldError, err)
		return nil, core.Persistence("list records", err)
	}
	return DaySummary(records, date), nil
}

func (s *Service) Month(ctx context.Context, year, month int) (MonthAnalytics, error) {
	if month < 1 || month > 12 {
		return MonthAnalytics{}, fmt.Errorf("%w: month %d", core.ErrValidation, month)
	}
	var (
		current, last []core.MonthTotal
		records       []core.OfferingRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		current, err = s.MonthlyTotals(gctx, year)
		return err
	})
	g.Go(func() (err error) {
		last, err = s.MonthlyTotals(gctx, year-1)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = s.src.ListRecords(gctx, gateway.RecordFilter{Year: year, Month: month, Limit: -1})
		if err != nil {
			return core.Persistence("list records", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return MonthAnalytics{}, err
	}
	return Month(year, month, current, last, records), nil
}

func (s *Service) Trend(ctx context.Context, year int) (TrendSeries, error) {
	var current, last []core.MonthTotal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		current, err = s.MonthlyTotals(gctx, year)
		return err
	})
	g.Go(func() (err error) {
		last, err = s.MonthlyTotals(gctx, year-1)
		return err
	})
	if err := g.Wait(); err != nil {
		return TrendSeries{}, err
	}
	return Trend(year, current, last), nil
}

func (s *Service) Budget(ctx context.Context, year int) (BudgetReport, error) {
	var (
		types   []core.OfferingType
		budgets []core.BudgetRecord
		records []core.OfferingRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if types, err = s.src.ListOfferingTypes(gctx); err != nil {
			return core.Persistence("list offering types", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if budgets, err = s.src.ListBudgets(gctx, year); err != nil {
			return core.Persistence("list budgets", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if records, err = s.src.ListRecords(gctx, gateway.RecordFilter{Year: year, Limit: -1}); err != nil {
			return core.Persistence("list records", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to load budget report", applog.FieldYear, year, applog.FieldError, err)
		return BudgetReport{}, err
	}
	return BudgetTable(year, types, budgets, records), nil
}

func (s *Service) Donor(ctx context.Context, offeringNumber string, year int) (DonorYearReport, error) {
	var (
		stats []core.DonorDayTotal
		types []core.OfferingType
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if stats, err = s.src.MonthlyTotalsByDonor(gctx, offeringNumber); err != nil {
			return core.Persistence("donor totals", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if types, err = s.src.ListOfferingTypes(gctx); err != nil {
			return core.Persistence("list offering types", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to load donor report",
			applog.FieldOfferingNumber, offeringNumber, applog.FieldError, err)
		return DonorYearReport{}, err
	}
	labels := make(map[string]string, len(types))
	for _, t := range types {
		labels[t.Code] = t.Label
	}
	return DonorYear(offeringNumber, year, stats, labels), nil
}
