package http

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"offertory/internal/core"
	"offertory/internal/gateway"
	"offertory/internal/services"
)

type budgetRequest struct {
	Amount string `json:"amount"`
	Note   string `json:"note"`
}

// handleListRecords lists records newest first, filtered by ?year, ?month
// and capped by ?limit.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	var (
		f   gateway.RecordFilter
		err error
	)
	if f.Year, err = queryInt(r, "year", 0); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Month, err = queryInt(r, "month", 0); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit", 0); err != nil {
		writeError(w, r, err)
		return
	}
	records, err := s.deps.Records.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []core.OfferingRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var rec core.OfferingRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, r, err)
		return
	}
	rec.ID = mux.Vars(r)["id"]
	if err := s.deps.Records.Update(r.Context(), rec); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Records.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDonors(w http.ResponseWriter, r *http.Request) {
	donors, err := s.deps.Donors.List(r.Context(), services.DonorQuery{
		Search:        r.URL.Query().Get("q"),
		WithoutNumber: queryBool(r, "withoutNumber"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if donors == nil {
		donors = []core.Donor{}
	}
	writeJSON(w, http.StatusOK, donors)
}

func (s *Server) handleCreateDonor(w http.ResponseWriter, r *http.Request) {
	var d core.Donor
	if err := decodeJSON(w, r, &d); err != nil {
		writeError(w, r, err)
		return
	}
	d.ID = ""
	saved, err := s.deps.Donors.Save(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateDonor(w http.ResponseWriter, r *http.Request) {
	var d core.Donor
	if err := decodeJSON(w, r, &d); err != nil {
		writeError(w, r, err)
		return
	}
	d.ID = mux.Vars(r)["id"]
	saved, err := s.deps.Donors.Save(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeactivateDonor(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Donors.Deactivate(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListTypes returns the catalog, narrowed by ?q when given.
func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.deps.Catalog.Lookup(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if types == nil {
		types = []core.OfferingType{}
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) handleSaveType(w http.ResponseWriter, r *http.Request) {
	var t core.OfferingType
	if err := decodeJSON(w, r, &t); err != nil {
		writeError(w, r, err)
		return
	}
	t.Code = mux.Vars(r)["code"]
	saved, err := s.deps.Catalog.Save(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	year, err := queryYear(r, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	budgets, err := s.deps.Budgets.List(r.Context(), year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if budgets == nil {
		budgets = []core.BudgetRecord{}
	}
	writeJSON(w, http.StatusOK, budgets)
}

func (s *Server) handleSaveBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	year, err := strconv.Atoi(vars["year"])
	if err != nil {
		writeError(w, r, core.ErrInvalidYear)
		return
	}
	saved, err := s.deps.Budgets.Save(r.Context(), year, vars["code"], req.Amount, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
