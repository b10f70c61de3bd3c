package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offertory/internal/core"
	"offertory/internal/gateway"
)

func record(date string, code string, cents int64, number string) core.OfferingRecord {
	d, _ := core.ParseDate(date)
	return core.OfferingRecord{Date: d, Code: code, Amount: core.Money{Cents: cents}, OfferingNumber: number, DonorName: "n"}
}

func TestInsertRecordsAssignsIDsInOrder(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	ids, err := s.InsertRecords(ctx, []core.OfferingRecord{
		record("2025-01-05", "11", 1000, ""),
		record("2025-01-05", "22", 2000, ""),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestInsertRecordsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	_, err := s.InsertRecords(ctx, []core.OfferingRecord{
		record("2025-01-05", "11", 1000, ""),
		{Code: "11"}, // no date
	})
	require.ErrorIs(t, err, core.ErrValidation)

	got, err := s.ListRecords(ctx, gateway.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListRecordsFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := New([]core.OfferingType{{Code: "11", Label: "십일조"}})

	ids, err := s.InsertRecords(ctx, []core.OfferingRecord{
		record("2025-01-05", "11", 100, ""),
		record("2025-02-02", "11", 200, ""),
		record("2025-01-12", "11", 300, ""),
		record("2024-01-07", "11", 400, ""),
	})
	require.NoError(t, err)

	jan, err := s.ListRecords(ctx, gateway.RecordFilter{Year: 2025, Month: 1})
	require.NoError(t, err)
	require.Len(t, jan, 2)
	assert.Equal(t, "2025-01-12", jan[0].Date.String())
	assert.Equal(t, "십일조", jan[0].CodeLabel)

	byID, err := s.ListRecords(ctx, gateway.RecordFilter{Year: 1999, IDs: []string{ids[0], ids[3]}})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	limited, err := s.ListRecords(ctx, gateway.RecordFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "2025-02-02", limited[0].Date.String())
}

func TestDonorLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	_, err := s.UpsertDonor(ctx, core.Donor{Name: "  "})
	require.ErrorIs(t, err, core.ErrEmptyName)

	d, err := s.UpsertDonor(ctx, core.Donor{Name: "김진", OfferingNumber: "101"})
	require.NoError(t, err)
	require.NotEmpty(t, d.ID)

	d.Phone = "010"
	_, err = s.UpsertDonor(ctx, d)
	require.NoError(t, err)

	list, err := s.ListDonors(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "010", list[0].Phone)

	require.NoError(t, s.DeactivateDonor(ctx, d.ID))
	list, err = s.ListDonors(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, s.DeactivateDonor(ctx, "nope"), core.ErrNotFound)
}

func TestStatsViews(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_, err := s.InsertRecords(ctx, []core.OfferingRecord{
		record("2025-01-05", "11", 100, "101"),
		record("2025-01-05", "11", 50, "101"),
		record("2025-03-02", "22", 200, "101"),
		record("2025-03-02", "22", 999, "102"),
	})
	require.NoError(t, err)

	months, err := s.MonthlyTotals(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, []core.MonthTotal{
		{Month: 1, Total: core.Money{Cents: 150}},
		{Month: 3, Total: core.Money{Cents: 1199}},
	}, months)

	days, err := s.MonthlyTotalsByDonor(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, []core.DonorDayTotal{
		{Year: 2025, Month: 1, Day: 5, Code: "11", Total: core.Money{Cents: 150}},
		{Year: 2025, Month: 3, Day: 2, Code: "22", Total: core.Money{Cents: 200}},
	}, days)
}

func TestSettingsAndBudgets(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	_, ok, err := s.GetSetting(ctx, gateway.SettingSyncEndpoint)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, gateway.SettingSyncEndpoint, "https://x"))
	v, ok, err := s.GetSetting(ctx, gateway.SettingSyncEndpoint)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://x", v)

	require.NoError(t, s.UpsertBudget(ctx, core.BudgetRecord{Year: 2025, Code: "11", Amount: core.Money{Cents: 100}}))
	require.NoError(t, s.UpsertBudget(ctx, core.BudgetRecord{Year: 2025, Code: "11", Amount: core.Money{Cents: 300}}))
	budgets, err := s.ListBudgets(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, int64(300), budgets[0].Amount.Cents)
}

func TestNewFromFilesSeeds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := NewFromFiles(dir)
	types, _ := s.ListOfferingTypes(ctx)
	assert.NotEmpty(t, types, "defaults expected when seed file is missing")

	content := "# code|label|category\n\n 11 | 십일조 | 헌금\nbad line\n22|감사헌금\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed_offering_types.txt"), []byte(content), 0o644))

	s = NewFromFiles(dir)
	types, err := s.ListOfferingTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "11", types[0].Code)
	assert.Equal(t, "헌금", types[0].Category)
	assert.Equal(t, "감사헌금", types[1].Label)
}
