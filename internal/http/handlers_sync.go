package http

import (
	"fmt"
	"net/http"

	"offertory/internal/core"
	"offertory/internal/gateway"
)

type syncStatus struct {
	Pending    []string `json:"pending"`
	Count      int      `json:"count"`
	Configured bool     `json:"configured"`
}

type endpointBody struct {
	Endpoint string `json:"endpoint"`
}

type syncRecordsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	ids, err := s.deps.Marker.PendingIDs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	endpoint, err := s.deps.Endpoints.Get(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, syncStatus{Pending: ids, Count: len(ids), Configured: endpoint != ""})
}

// handleSyncPending transmits every record still awaiting the spreadsheet.
func (s *Server) handleSyncPending(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Marker.SyncPending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSyncRecords transmits the pending records among the given ids.
func (s *Server) handleSyncRecords(w http.ResponseWriter, r *http.Request) {
	var req syncRecordsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, fmt.Errorf("%w: ids are required", core.ErrValidation))
		return
	}
	records, err := s.deps.Records.List(r.Context(), gateway.RecordFilter{IDs: req.IDs})
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Marker.Sync(r.Context(), records)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint, err := s.deps.Endpoints.Get(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, endpointBody{Endpoint: endpoint})
}

func (s *Server) handleSetEndpoint(w http.ResponseWriter, r *http.Request) {
	var body endpointBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Endpoints.Set(r.Context(), body.Endpoint); err != nil {
		writeError(w, r, err)
		return
	}
	s.handleGetEndpoint(w, r)
}
