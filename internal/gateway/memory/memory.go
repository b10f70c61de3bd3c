// Package memory is an in-process gateway used for local development and
// tests. Ids are assigned from a monotonically increasing counter.
package memory

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"offertory/internal/core"
	"offertory/internal/gateway"
)

type Store struct {
	mu       sync.Mutex
	nextID   int
	donors   []core.Donor
	types    map[string]core.OfferingType
	records  []core.OfferingRecord
	budgets  map[budgetKey]core.BudgetRecord
	settings map[string]string
}

type budgetKey struct {
	year int
	code string
}

var _ gateway.Gateway = (*Store)(nil)

func New(types []core.OfferingType) *Store {
	s := &Store{
		types:    make(map[string]core.OfferingType),
		budgets:  make(map[budgetKey]core.BudgetRecord),
		settings: make(map[string]string),
	}
	for _, t := range types {
		t.Code = core.NormalizeCode(t.Code)
		if t.Code == "" || strings.TrimSpace(t.Label) == "" {
			continue
		}
		t.Active = true
		s.types[t.Code] = t
	}
	return s
}

// NewFromFiles seeds offering types from base/seed_offering_types.txt, one
// "code|label|category" entry per line. Built-in defaults are used when the
// file is missing or empty.
func NewFromFiles(base string) *Store {
	types := readTypes(filepath.Join(base, "seed_offering_types.txt"))
	if len(types) == 0 {
		types = []core.OfferingType{
			{Code: "11", Label: "십일조", Category: "헌금"},
			{Code: "21", Label: "주일헌금", Category: "헌금"},
			{Code: "22", Label: "감사헌금", Category: "헌금"},
			{Code: "29", Label: "특별감사", Category: "헌금"},
			{Code: "98", Label: "기타수입", Category: "기타"},
		}
	}
	return New(types)
}

func (s *Store) newID() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

func (s *Store) ListDonors(_ context.Context) ([]core.Donor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Donor, 0, len(s.donors))
	for _, d := range s.donors {
		if d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) UpsertDonor(_ context.Context, d core.Donor) (core.Donor, error) {
	if err := d.Validate(); err != nil {
		return core.Donor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d.Name = strings.TrimSpace(d.Name)
	d.Active = true
	if d.ID != "" {
		for i := range s.donors {
			if s.donors[i].ID == d.ID {
				s.donors[i] = d
				return d, nil
			}
		}
		return core.Donor{}, core.ErrNotFound
	}
	d.ID = s.newID()
	s.donors = append(s.donors, d)
	return d, nil
}

func (s *Store) DeactivateDonor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.donors {
		if s.donors[i].ID == id {
			s.donors[i].Active = false
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *Store) ListOfferingTypes(_ context.Context) ([]core.OfferingType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.OfferingType, 0, len(s.types))
	for _, t := range s.types {
		if t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) UpsertOfferingType(_ context.Context, t core.OfferingType) (core.OfferingType, error) {
	if err := t.Validate(); err != nil {
		return core.OfferingType{}, err
	}
	t.Code = core.NormalizeCode(t.Code)
	t.Label = strings.TrimSpace(t.Label)
	t.Active = true
	s.mu.Lock()
	s.types[t.Code] = t
	s.mu.Unlock()
	return t, nil
}

func (s *Store) ListRecords(_ context.Context, f gateway.RecordFilter) ([]core.OfferingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.OfferingRecord
	for _, r := range s.records {
		if len(f.IDs) > 0 {
			if !slices.Contains(f.IDs, r.ID) {
				continue
			}
		} else {
			if f.Year != 0 && r.Date.Year() != f.Year {
				continue
			}
			if f.Month != 0 && r.Date.Month() != f.Month {
				continue
			}
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a > b
	})

	limit := f.Limit
	if limit == 0 && len(f.IDs) == 0 {
		limit = gateway.DefaultRecordLimit
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertRecords(_ context.Context, records []core.OfferingRecord) ([]string, error) {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(records))
	for _, r := range records {
		r.ID = s.newID()
		r.Code = core.NormalizeCode(r.Code)
		if r.CodeLabel == "" {
			if t, ok := s.types[r.Code]; ok {
				r.CodeLabel = t.Label
			}
		}
		s.records = append(s.records, r)
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *Store) UpdateRecord(_ context.Context, r core.OfferingRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == r.ID {
			r.Code = core.NormalizeCode(r.Code)
			if t, ok := s.types[r.Code]; ok {
				r.CodeLabel = t.Label
			}
			s.records[i] = r
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *Store) DeleteRecord(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *Store) ListBudgets(_ context.Context, year int) ([]core.BudgetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.BudgetRecord
	for k, b := range s.budgets {
		if k.year == year {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) UpsertBudget(_ context.Context, b core.BudgetRecord) error {
	if err := b.Validate(); err != nil {
		return err
	}
	b.Code = core.NormalizeCode(b.Code)
	s.mu.Lock()
	s.budgets[budgetKey{year: b.Year, code: b.Code}] = b
	s.mu.Unlock()
	return nil
}

func (s *Store) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *Store) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.settings[key] = value
	s.mu.Unlock()
	return nil
}

func (s *Store) MonthlyTotals(_ context.Context, year int) ([]core.MonthTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMonth := map[int]core.Money{}
	for _, r := range s.records {
		if r.Date.Year() == year {
			byMonth[r.Date.Month()] = byMonth[r.Date.Month()].Add(r.Amount)
		}
	}
	out := make([]core.MonthTotal, 0, len(byMonth))
	for m, total := range byMonth {
		out = append(out, core.MonthTotal{Month: m, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

func (s *Store) MonthlyTotalsByDonor(_ context.Context, offeringNumber string) ([]core.DonorDayTotal, error) {
	offeringNumber = strings.TrimSpace(offeringNumber)
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		y, m, d int
		code    string
	}
	totals := map[key]core.Money{}
	for _, r := range s.records {
		if offeringNumber == "" || r.OfferingNumber != offeringNumber {
			continue
		}
		k := key{r.Date.Year(), r.Date.Month(), r.Date.Day(), r.Code}
		totals[k] = totals[k].Add(r.Amount)
	}
	out := make([]core.DonorDayTotal, 0, len(totals))
	for k, total := range totals {
		out = append(out, core.DonorDayTotal{Year: k.y, Month: k.m, Day: k.d, Code: k.code, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return a.Code < b.Code
	})
	return out, nil
}

func (s *Store) Close() error { return nil }

func readTypes(path string) []core.OfferingType {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []core.OfferingType
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			continue
		}
		t := core.OfferingType{Code: parts[0], Label: strings.TrimSpace(parts[1])}
		if len(parts) > 2 {
			t.Category = strings.TrimSpace(parts[2])
		}
		out = append(out, t)
	}
	return out
}
