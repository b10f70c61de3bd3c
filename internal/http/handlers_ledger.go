package http

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"offertory/internal/commit"
	"offertory/internal/core"
	"offertory/internal/ledger"
	"offertory/internal/report"
)

type ledgerView struct {
	Items       []core.PendingItem   `json:"items"`
	Count       int                  `json:"count"`
	Total       core.Money           `json:"total"`
	Summary     []report.CodeSummary `json:"summary"`
	DefaultDate core.Date            `json:"defaultDate"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type commitRequest struct {
	Date string `json:"date"`
}

type commitResponse struct {
	commit.Result
	// NotSunday flags an entry date off the usual offering day.
	NotSunday bool `json:"notSunday"`
}

func (s *Server) ledgerView() ledgerView {
	items := s.deps.Ledger.Recent()
	return ledgerView{
		Items:       items,
		Count:       len(items),
		Total:       s.deps.Ledger.GrandTotal(),
		Summary:     s.deps.Ledger.SummarizeByCategory(),
		DefaultDate: core.LastSunday(s.now()),
	}
}

func (s *Server) pendingChanged() {
	s.deps.Metrics.SetPendingItems(s.deps.Ledger.Len())
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledgerView())
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var in ledger.AddInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	item, err := s.deps.Ledger.Add(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.pendingChanged()
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateItemAmount(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Ledger.UpdateAmount(r.Context(), mux.Vars(r)["id"], req.Amount); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ledgerView())
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ledger.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	s.pendingChanged()
	writeJSON(w, http.StatusOK, s.ledgerView())
}

func (s *Server) handleClearLedger(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ledger.Clear(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	s.pendingChanged()
	w.WriteHeader(http.StatusNoContent)
}

// handleCommit commits the ledger under the requested date, or the most
// recent Sunday when none is given.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	date := core.LastSunday(s.now())
	if strings.TrimSpace(req.Date) != "" {
		d, err := core.ParseDate(req.Date)
		if err != nil {
			writeError(w, r, err)
			return
		}
		date = d
	}

	res, err := s.deps.Engine.Commit(r.Context(), date)
	s.pendingChanged()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, commitResponse{Result: res, NotSunday: !date.IsSunday()})
}
