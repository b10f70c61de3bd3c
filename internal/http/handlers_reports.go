package http

import (
	"fmt"
	"net/http"
	"strings"

	"offertory/internal/core"
	"offertory/internal/report"
)

type dayReport struct {
	Date  core.Date            `json:"date"`
	Total core.Money           `json:"total"`
	Lines []report.CodeSummary `json:"lines"`
}

type budgetReport struct {
	report.BudgetReport
	// Progress lists the same groups ordered by actual receipts.
	Progress []report.BudgetGroup `json:"progress"`
}

// handleDayReport is the weekly report for ?date, defaulting to the most
// recent Sunday.
func (s *Server) handleDayReport(w http.ResponseWriter, r *http.Request) {
	date := core.LastSunday(s.now())
	if v := strings.TrimSpace(r.URL.Query().Get("date")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		date = d
	}
	lines, err := s.deps.Reports.Day(r.Context(), date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var total core.Money
	for _, l := range lines {
		total = total.Add(l.Total)
	}
	if lines == nil {
		lines = []report.CodeSummary{}
	}
	writeJSON(w, http.StatusOK, dayReport{Date: date, Total: total, Lines: lines})
}

func (s *Server) handleMonthReport(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	year, err := queryYear(r, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	month, err := queryInt(r, "month", int(now.Month()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := s.deps.Reports.Month(r.Context(), year, month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleTrendReport(w http.ResponseWriter, r *http.Request) {
	year, err := queryYear(r, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := s.deps.Reports.Trend(r.Context(), year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleBudgetReport(w http.ResponseWriter, r *http.Request) {
	year, err := queryYear(r, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := s.deps.Reports.Budget(r.Context(), year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budgetReport{BudgetReport: rep, Progress: rep.Progress()})
}

// handleDonorReport summarizes the year for the donor with ?number.
func (s *Server) handleDonorReport(w http.ResponseWriter, r *http.Request) {
	number := strings.TrimSpace(r.URL.Query().Get("number"))
	if number == "" {
		writeError(w, r, fmt.Errorf("%w: offering number is required", core.ErrValidation))
		return
	}
	year, err := queryYear(r, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := s.deps.Reports.Donor(r.Context(), number, year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
