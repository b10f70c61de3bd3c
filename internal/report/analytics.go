package report

import (
	"fmt"
	"sort"
	"strings"

	"offertory/internal/core"
)

// DefaultCategory groups offering types that have no category.
const DefaultCategory = "기타"

// CodeShare is a category's slice of a period total.
type CodeShare struct {
	Code    string     `json:"code"`
	Label   string     `json:"label"`
	Total   core.Money `json:"total"`
	Count   int        `json:"count"`
	Percent float64    `json:"percent"`
}

type MonthAnalytics struct {
	Year           int         `json:"year"`
	Month          int         `json:"month"`
	Total          core.Money  `json:"total"`
	PrevMonthTotal core.Money  `json:"prevMonthTotal"`
	LastYearTotal  core.Money  `json:"lastYearTotal"`
	MoMDiff        core.Money  `json:"momDiff"`
	YoYDiff        core.Money  `json:"yoyDiff"`
	MoMPercent     float64     `json:"momPercent"`
	YoYPercent     float64     `json:"yoyPercent"`
	Count          int         `json:"count"`
	Items          []CodeShare `json:"items"`
}

// Month compares one month against the previous month and the same month a
// year earlier. current and last are the monthly totals of year and year-1;
// records may span any range and are filtered to the month.
func Month(year, month int, current, last []core.MonthTotal, records []core.OfferingRecord) MonthAnalytics {
	a := MonthAnalytics{Year: year, Month: month}
	a.Total = monthTotal(current, month)
	if month == 1 {
		a.PrevMonthTotal = monthTotal(last, 12)
	} else {
		a.PrevMonthTotal = monthTotal(current, month-1)
	}
	a.LastYearTotal = monthTotal(last, month)
	a.MoMDiff = diff(a.Total, a.PrevMonthTotal)
	a.YoYDiff = diff(a.Total, a.LastYearTotal)
	a.MoMPercent = Percent(a.MoMDiff, a.PrevMonthTotal)
	a.YoYPercent = Percent(a.YoYDiff, a.LastYearTotal)

	var inMonth []core.OfferingRecord
	for _, r := range records {
		if r.Date.Year() == year && r.Date.Month() == month {
			inMonth = append(inMonth, r)
		}
	}
	a.Count = len(inMonth)
	a.Items = shares(inMonth, a.Total, nil)
	return a
}

// shares groups records by code and sorts by total, largest first. Labels
// fall back to labels[code] and then to the code itself.
func shares(records []core.OfferingRecord, base core.Money, labels map[string]string) []CodeShare {
	byCode := map[string]*CodeShare{}
	var order []string
	for _, r := range records {
		s, ok := byCode[r.Code]
		if !ok {
			label := r.CodeLabel
			if label == "" {
				label = codeLabel(r.Code, labels)
			}
			s = &CodeShare{Code: r.Code, Label: label}
			byCode[r.Code] = s
			order = append(order, r.Code)
		}
		s.Total = s.Total.Add(r.Amount)
		s.Count++
	}
	out := make([]CodeShare, 0, len(order))
	for _, code := range order {
		s := *byCode[code]
		s.Percent = Percent(s.Total, base)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total.Cents > out[j].Total.Cents })
	return out
}

type TrendPoint struct {
	Month   int        `json:"month"`
	Current core.Money `json:"current"`
	Last    core.Money `json:"last"`
}

type TrendSeries struct {
	Year           int          `json:"year"`
	Points         []TrendPoint `json:"points"`
	CurrentTotal   core.Money   `json:"currentTotal"`
	LastTotal      core.Money   `json:"lastTotal"`
	GrowthPercent  float64      `json:"growthPercent"`
	MonthlyAverage core.Money   `json:"monthlyAverage"`
}

// Trend lays the monthly totals of two consecutive years side by side.
func Trend(year int, current, last []core.MonthTotal) TrendSeries {
	t := TrendSeries{Year: year, Points: make([]TrendPoint, 12)}
	for m := 1; m <= 12; m++ {
		p := TrendPoint{Month: m, Current: monthTotal(current, m), Last: monthTotal(last, m)}
		t.Points[m-1] = p
		t.CurrentTotal = t.CurrentTotal.Add(p.Current)
		t.LastTotal = t.LastTotal.Add(p.Last)
	}
	t.GrowthPercent = Percent(diff(t.CurrentTotal, t.LastTotal), t.LastTotal)
	t.MonthlyAverage = core.Money{Cents: t.CurrentTotal.Cents / 12}
	return t
}

type BudgetLine struct {
	Code    string     `json:"code"`
	Label   string     `json:"label"`
	Budget  core.Money `json:"budget"`
	Actual  core.Money `json:"actual"`
	Percent float64    `json:"percent"`
	Note    string     `json:"note,omitempty"`
}

type BudgetGroup struct {
	Category string       `json:"category"`
	Lines    []BudgetLine `json:"lines"`
	Budget   core.Money   `json:"budget"`
	Actual   core.Money   `json:"actual"`
	Percent  float64      `json:"percent"`
}

type BudgetReport struct {
	Year    int           `json:"year"`
	Groups  []BudgetGroup `json:"groups"`
	Budget  core.Money    `json:"budget"`
	Actual  core.Money    `json:"actual"`
	Percent float64       `json:"percent"`
}

// BudgetTable compares the year's budget with actual receipts per offering
// type, grouped by type category in order of first appearance.
func BudgetTable(year int, types []core.OfferingType, budgets []core.BudgetRecord, records []core.OfferingRecord) BudgetReport {
	budgetByCode := map[string]core.BudgetRecord{}
	for _, b := range budgets {
		if b.Year == year {
			budgetByCode[core.NormalizeCode(b.Code)] = b
		}
	}
	actualByCode := map[string]core.Money{}
	for _, r := range records {
		if r.Date.Year() == year {
			code := core.NormalizeCode(r.Code)
			actualByCode[code] = actualByCode[code].Add(r.Amount)
		}
	}

	rep := BudgetReport{Year: year}
	index := map[string]int{}
	for _, t := range types {
		cat := strings.TrimSpace(t.Category)
		if cat == "" {
			cat = DefaultCategory
		}
		i, ok := index[cat]
		if !ok {
			i = len(rep.Groups)
			index[cat] = i
			rep.Groups = append(rep.Groups, BudgetGroup{Category: cat})
		}
		b := budgetByCode[t.Code]
		line := BudgetLine{
			Code:   t.Code,
			Label:  t.Label,
			Budget: b.Amount,
			Actual: actualByCode[t.Code],
			Note:   b.Note,
		}
		line.Percent = Percent(line.Actual, line.Budget)

		g := &rep.Groups[i]
		g.Lines = append(g.Lines, line)
		g.Budget = g.Budget.Add(line.Budget)
		g.Actual = g.Actual.Add(line.Actual)
	}
	for i := range rep.Groups {
		g := &rep.Groups[i]
		g.Percent = Percent(g.Actual, g.Budget)
		rep.Budget = rep.Budget.Add(g.Budget)
		rep.Actual = rep.Actual.Add(g.Actual)
	}
	rep.Percent = Percent(rep.Actual, rep.Budget)
	return rep
}

// Progress returns the category groups that have a budget or receipts,
// largest actual first.
func (r BudgetReport) Progress() []BudgetGroup {
	var out []BudgetGroup
	for _, g := range r.Groups {
		if g.Budget.Cents > 0 || g.Actual.Cents > 0 {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Actual.Cents > out[j].Actual.Cents })
	return out
}

type DonorYearReport struct {
	OfferingNumber string               `json:"offeringNumber"`
	Year           int                  `json:"year"`
	Months         [12]core.Money       `json:"months"`
	Running        [12]core.Money       `json:"running"`
	Total          core.Money           `json:"total"`
	ByCode         []CodeShare          `json:"byCode"`
	Days           []core.DonorDayTotal `json:"days"`
}

// DonorYear summarizes one donor's giving in a year from the per-day view.
// labels maps codes to display labels.
func DonorYear(offeringNumber string, year int, stats []core.DonorDayTotal, labels map[string]string) DonorYearReport {
	rep := DonorYearReport{OfferingNumber: offeringNumber, Year: year}

	var asRecords []core.OfferingRecord
	for _, s := range stats {
		if s.Year != year || s.Month < 1 || s.Month > 12 {
			continue
		}
		rep.Months[s.Month-1] = rep.Months[s.Month-1].Add(s.Total)
		rep.Total = rep.Total.Add(s.Total)
		rep.Days = append(rep.Days, s)
		asRecords = append(asRecords, core.OfferingRecord{Code: s.Code, Amount: s.Total})
	}

	var running core.Money
	for i, m := range rep.Months {
		running = running.Add(m)
		rep.Running[i] = running
	}

	// count is the number of giving days, not of records
	rep.ByCode = shares(asRecords, rep.Total, labels)

	sort.SliceStable(rep.Days, func(i, j int) bool {
		a, b := rep.Days[i], rep.Days[j]
		if a.Month != b.Month {
			return a.Month > b.Month
		}
		return a.Day > b.Day
	})
	return rep
}

func monthTotal(totals []core.MonthTotal, month int) core.Money {
	for _, t := range totals {
		if t.Month == month {
			return t.Total
		}
	}
	return core.Money{}
}

func codeLabel(code string, labels map[string]string) string {
	if l, ok := labels[code]; ok && l != "" {
		return l
	}
	return fmt.Sprintf("코드 %s", code)
}
