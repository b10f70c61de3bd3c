package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offertory/internal/core"
	"offertory/internal/gateway/memory"
)

func money(units int64) core.Money { return core.Money{Cents: units * 100} }

func rec(date, code, label string, units int64, number, name, note string) core.OfferingRecord {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return core.OfferingRecord{
		Date: d, Code: code, CodeLabel: label, Amount: money(units),
		OfferingNumber: number, DonorName: name, Note: note,
	}
}

func TestSummarizeByCodeOrdersContributors(t *testing.T) {
	entries := []Entry{
		{Code: "22", Amount: money(10), OfferingNumber: "12", DonorName: "B"},
		{Code: "22", Amount: money(20), OfferingNumber: "3", DonorName: "A"},
		{Code: "22", Amount: money(30), DonorName: "C"},
		{Code: "11", CodeLabel: "십일조", Amount: money(5), DonorName: "D", Note: "생일"},
	}
	got := SummarizeByCode(entries)
	require.Len(t, got, 2)

	assert.Equal(t, "11", got[0].Code)
	assert.Equal(t, "십일조", got[0].Label)
	assert.Equal(t, []string{"D(생일)"}, got[0].Contributors)

	assert.Equal(t, "22", got[1].Code)
	assert.Equal(t, money(60), got[1].Total)
	assert.Equal(t, 3, got[1].Count)
	assert.Equal(t, []string{"3", "12", "C"}, got[1].Contributors)
}

func TestSummarizeByCodeUnnumberedAlphabetical(t *testing.T) {
	got := SummarizeByCode([]Entry{
		{Code: "29", Amount: money(1), DonorName: "홍길동"},
		{Code: "29", Amount: money(1), DonorName: "김철수"},
		{Code: "29", Amount: money(1), OfferingNumber: "04", DonorName: "Z"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, []string{"04", "김철수", "홍길동"}, got[0].Contributors)
}

func TestCodeOrderingNumericFirst(t *testing.T) {
	got := SummarizeByCode([]Entry{{Code: "B"}, {Code: "100"}, {Code: "9"}, {Code: "A"}})
	var codes []string
	for _, s := range got {
		codes = append(codes, s.Code)
	}
	assert.Equal(t, []string{"9", "100", "A", "B"}, codes)
}

func TestDaySummary(t *testing.T) {
	day, _ := core.ParseDate("2025-01-05")
	got := DaySummary([]core.OfferingRecord{
		rec("2025-01-05", "29", "감사", 50, "320", "장말순", ""),
		rec("2025-01-05", "29", "감사", 100, "", "김정진", "신년감사"),
		rec("2025-01-12", "29", "감사", 999, "", "X", ""),
	}, day)
	require.Len(t, got, 1)
	assert.Equal(t, money(150), got[0].Total)
	assert.Equal(t, []string{"320", "김정진(신년감사)"}, got[0].Contributors)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(money(5), core.Money{}))
	assert.Equal(t, 50.0, Percent(money(5), money(10)))
	assert.Equal(t, 33.33, Percent(money(1), money(3)))
	assert.Equal(t, -25.0, Percent(core.Money{Cents: -250}, money(10)))
}

func TestMonthAnalytics(t *testing.T) {
	current := []core.MonthTotal{{Month: 1, Total: money(200)}, {Month: 2, Total: money(300)}}
	last := []core.MonthTotal{{Month: 2, Total: money(150)}, {Month: 12, Total: money(400)}}
	records := []core.OfferingRecord{
		rec("2025-02-02", "11", "십일조", 100, "", "a", ""),
		rec("2025-02-02", "22", "감사", 200, "", "b", ""),
		rec("2025-01-05", "22", "감사", 200, "", "c", ""),
	}

	a := Month(2025, 2, current, last, records)
	assert.Equal(t, money(300), a.Total)
	assert.Equal(t, money(200), a.PrevMonthTotal)
	assert.Equal(t, money(150), a.LastYearTotal)
	assert.Equal(t, 50.0, a.MoMPercent)
	assert.Equal(t, 100.0, a.YoYPercent)
	assert.Equal(t, 2, a.Count)
	require.Len(t, a.Items, 2)
	assert.Equal(t, "22", a.Items[0].Code)
	assert.InDelta(t, 66.67, a.Items[0].Percent, 0.001)

	jan := Month(2025, 1, current, last, records)
	assert.Equal(t, money(400), jan.PrevMonthTotal, "January compares against last December")
	assert.Equal(t, -50.0, jan.MoMPercent)
	assert.Equal(t, 0.0, jan.YoYPercent, "no base last year")
}

func TestTrend(t *testing.T) {
	tr := Trend(2025,
		[]core.MonthTotal{{Month: 1, Total: money(120)}, {Month: 3, Total: money(120)}},
		[]core.MonthTotal{{Month: 1, Total: money(200)}},
	)
	require.Len(t, tr.Points, 12)
	assert.Equal(t, money(120), tr.Points[2].Current)
	assert.Equal(t, core.Money{}, tr.Points[2].Last)
	assert.Equal(t, money(240), tr.CurrentTotal)
	assert.Equal(t, 20.0, tr.GrowthPercent)
	assert.Equal(t, money(20), tr.MonthlyAverage)
}

func TestBudgetTable(t *testing.T) {
	types := []core.OfferingType{
		{Code: "11", Label: "십일조", Category: "일반 헌금"},
		{Code: "22", Label: "감사헌금", Category: "일반 헌금"},
		{Code: "98", Label: "렌트"},
	}
	budgets := []core.BudgetRecord{
		{Year: 2025, Code: "11", Amount: money(1000), Note: "목표"},
		{Year: 2025, Code: "98", Amount: money(200)},
		{Year: 2024, Code: "22", Amount: money(999)},
	}
	records := []core.OfferingRecord{
		rec("2025-01-05", "11", "", 250, "", "", ""),
		rec("2025-02-05", "98", "", 300, "", "", ""),
		rec("2024-02-05", "22", "", 300, "", "", ""),
	}

	rep := BudgetTable(2025, types, budgets, records)
	require.Len(t, rep.Groups, 2)
	assert.Equal(t, "일반 헌금", rep.Groups[0].Category)
	assert.Equal(t, DefaultCategory, rep.Groups[1].Category)

	g := rep.Groups[0]
	assert.Equal(t, money(1000), g.Budget)
	assert.Equal(t, money(250), g.Actual)
	assert.Equal(t, 25.0, g.Percent)
	assert.Equal(t, "목표", g.Lines[0].Note)
	assert.Equal(t, 0.0, g.Lines[1].Percent)

	assert.Equal(t, 150.0, rep.Groups[1].Percent)
	assert.Equal(t, money(1200), rep.Budget)
	assert.Equal(t, money(550), rep.Actual)

	progress := rep.Progress()
	require.Len(t, progress, 2)
	assert.Equal(t, DefaultCategory, progress[0].Category)
}

func TestDonorYear(t *testing.T) {
	stats := []core.DonorDayTotal{
		{Year: 2024, Month: 12, Day: 29, Code: "11", Total: money(100)},
		{Year: 2025, Month: 1, Day: 5, Code: "11", Total: money(100)},
		{Year: 2025, Month: 1, Day: 12, Code: "22", Total: money(50)},
		{Year: 2025, Month: 3, Day: 2, Code: "11", Total: money(100)},
	}
	rep := DonorYear("101", 2025, stats, map[string]string{"11": "십일조"})

	assert.Equal(t, money(250), rep.Total)
	assert.Equal(t, money(150), rep.Months[0])
	assert.Equal(t, money(150), rep.Running[1])
	assert.Equal(t, money(250), rep.Running[11])
	require.Len(t, rep.ByCode, 2)
	assert.Equal(t, "십일조", rep.ByCode[0].Label)
	assert.Equal(t, "코드 22", rep.ByCode[1].Label)
	require.Len(t, rep.Days, 3)
	assert.Equal(t, 3, rep.Days[0].Month)
}

type countingReader struct {
	*memory.Store
	totalsCalls int
	failTotals  error
}

func (c *countingReader) MonthlyTotals(ctx context.Context, year int) ([]core.MonthTotal, error) {
	c.totalsCalls++
	if c.failTotals != nil {
		return nil, c.failTotals
	}
	return c.Store.MonthlyTotals(ctx, year)
}

func TestServiceCachesTotalsUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	_, err := store.InsertRecords(ctx, []core.OfferingRecord{rec("2025-01-05", "11", "십일조", 10, "", "a", "")})
	require.NoError(t, err)

	src := &countingReader{Store: store}
	svc := NewService(src, time.Hour)

	_, err = svc.MonthlyTotals(ctx, 2025)
	require.NoError(t, err)
	_, err = svc.MonthlyTotals(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, src.totalsCalls)

	svc.Invalidate()
	_, err = svc.MonthlyTotals(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, 2, src.totalsCalls)
}

func TestServiceTotalsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	_, err := store.InsertRecords(ctx, []core.OfferingRecord{rec("2025-01-05", "11", "십일조", 10, "", "a", "")})
	require.NoError(t, err)
	svc := NewService(store, time.Hour)

	first, err := svc.MonthlyTotals(ctx, 2025)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	want := first[0]
	first[0] = core.MonthTotal{Month: 99}

	second, err := svc.MonthlyTotals(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, want, second[0])
	second[0].Total = core.Money{}

	third, err := svc.MonthlyTotals(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, want, third[0])
}

func TestServiceReports(t *testing.T) {
	ctx := context.Background()
	store := memory.New([]core.OfferingType{{Code: "11", Label: "십일조", Category: "헌금"}})
	_, err := store.InsertRecords(ctx, []core.OfferingRecord{
		rec("2025-01-05", "11", "", 100, "101", "김진", ""),
		rec("2024-01-07", "11", "", 50, "101", "김진", ""),
	})
	require.NoError(t, err)
	require.NoError(t, store.UpsertBudget(ctx, core.BudgetRecord{Year: 2025, Code: "11", Amount: money(400)}))
	svc := NewService(store, time.Minute)

	m, err := svc.Month(ctx, 2025, 1)
	require.NoError(t, err)
	assert.Equal(t, money(100), m.Total)
	assert.Equal(t, 100.0, m.YoYPercent)

	tr, err := svc.Trend(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, money(50), tr.LastTotal)

	b, err := svc.Budget(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, 25.0, b.Percent)

	day, err := svc.Day(ctx, core.NewDate(2025, 1, 5))
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, []string{"101"}, day[0].Contributors)

	d, err := svc.Donor(ctx, "101", 2024)
	require.NoError(t, err)
	assert.Equal(t, money(50), d.Total)

	_, err = svc.Month(ctx, 2025, 13)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestServiceWrapsReadFailures(t *testing.T) {
	src := &countingReader{Store: memory.New(nil), failTotals: errors.New("db down")}
	_, err := NewService(src, time.Minute).Trend(context.Background(), 2025)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistence)
}

var _ Reader = (*memory.Store)(nil)
