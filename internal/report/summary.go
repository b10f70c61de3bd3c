// Package report turns raw offering data into the grouped, totalled and
// percentage views shown on the entry, dashboard, budget and donor screens.
// Everything except Service is a pure function of its inputs.
package report

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"offertory/internal/core"
)

// Entry is the common shape of a pending item and a committed record as far
// as aggregation is concerned.
type Entry struct {
	Code           string
	CodeLabel      string
	Amount         core.Money
	OfferingNumber string
	DonorName      string
	Note           string
}

// CodeSummary is one category line: its total and who contributed.
type CodeSummary struct {
	Code         string     `json:"code"`
	Label        string     `json:"label"`
	Total        core.Money `json:"total"`
	Count        int        `json:"count"`
	Contributors []string   `json:"contributors"`
}

func EntriesFromPending(items []core.PendingItem) []Entry {
	out := make([]Entry, len(items))
	for i, it := range items {
		out[i] = Entry{
			Code:           it.Code,
			CodeLabel:      it.CodeLabel,
			Amount:         it.Amount,
			OfferingNumber: it.OfferingNumber,
			DonorName:      it.DonorName,
			Note:           it.Note,
		}
	}
	return out
}

func EntriesFromRecords(records []core.OfferingRecord) []Entry {
	out := make([]Entry, len(records))
	for i, r := range records {
		out[i] = Entry{
			Code:           r.Code,
			CodeLabel:      r.CodeLabel,
			Amount:         r.Amount,
			OfferingNumber: r.OfferingNumber,
			DonorName:      r.DonorName,
			Note:           r.Note,
		}
	}
	return out
}

// SummarizeByCode groups entries by category code. Summaries are ordered by
// code; contributors within a code are ordered by numeric offering number,
// with unnumbered contributors last in name order.
func SummarizeByCode(entries []Entry) []CodeSummary {
	groups := map[string][]Entry{}
	var codes []string
	for _, e := range entries {
		if _, ok := groups[e.Code]; !ok {
			codes = append(codes, e.Code)
		}
		groups[e.Code] = append(groups[e.Code], e)
	}
	sort.Slice(codes, func(i, j int) bool { return codeLess(codes[i], codes[j]) })

	out := make([]CodeSummary, 0, len(codes))
	for _, code := range codes {
		members := groups[code]
		sort.SliceStable(members, func(i, j int) bool { return contributorLess(members[i], members[j]) })

		s := CodeSummary{Code: code, Count: len(members), Contributors: make([]string, 0, len(members))}
		for _, m := range members {
			if s.Label == "" {
				s.Label = m.CodeLabel
			}
			s.Total = s.Total.Add(m.Amount)
			s.Contributors = append(s.Contributors, core.ContributorLabel(m.OfferingNumber, m.DonorName, m.Note))
		}
		if s.Label == "" {
			s.Label = code
		}
		out = append(out, s)
	}
	return out
}

// Total sums entry amounts.
func Total(entries []Entry) core.Money {
	var total core.Money
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// DaySummary is the weekly report: records of one date grouped by code.
func DaySummary(records []core.OfferingRecord, date core.Date) []CodeSummary {
	var day []core.OfferingRecord
	for _, r := range records {
		if r.Date.Equal(date.Time) {
			day = append(day, r)
		}
	}
	return SummarizeByCode(EntriesFromRecords(day))
}

// Percent returns part/base*100 rounded to two places, or 0 when base is 0.
func Percent(part, base core.Money) float64 {
	if base.Cents == 0 {
		return 0
	}
	return decimal.NewFromInt(part.Cents).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(base.Cents)).
		Round(2).
		InexactFloat64()
}

func diff(a, b core.Money) core.Money {
	return core.Money{Cents: a.Cents - b.Cents}
}

func contributorLess(a, b Entry) bool {
	an, aok := core.OfferingNumberValue(a.OfferingNumber)
	bn, bok := core.OfferingNumberValue(b.OfferingNumber)
	switch {
	case aok && bok:
		return an < bn
	case aok != bok:
		return aok
	}
	return strings.TrimSpace(a.DonorName) < strings.TrimSpace(b.DonorName)
}

// codeLess orders numeric codes numerically and everything else lexically,
// numeric codes first.
func codeLess(a, b string) bool {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		if an != bn {
			return an < bn
		}
		return a < b
	case (aerr == nil) != (berr == nil):
		return aerr == nil
	}
	return a < b
}
