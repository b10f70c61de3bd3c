// Package http serves the JSON API used by the entry and reporting screens.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"offertory/internal/commit"
	"offertory/internal/ledger"
	"offertory/internal/log"
	"offertory/internal/metrics"
	"offertory/internal/report"
	"offertory/internal/services"
	"offertory/internal/syncmark"
)

// Deps are the collaborators behind the API. Metrics and Ready are optional.
type Deps struct {
	Ledger    *ledger.Ledger
	Engine    *commit.Engine
	Marker    *syncmark.Marker
	Endpoints *syncmark.EndpointStore
	Records   *services.RecordService
	Donors    *services.DonorService
	Catalog   *services.CatalogService
	Budgets   *services.BudgetService
	Reports   *report.Service
	Metrics   *metrics.Metrics
	// Ready reports whether the backing stores are reachable.
	Ready     func(ctx context.Context) error
	RateLimit RateLimitConfig
	Logger    *slog.Logger
}

type Server struct {
	http.Server
	deps         Deps
	limiter      *rateLimiter
	now          func() time.Time
	shutdownOnce sync.Once
}

// NewServer configures the routes and returns a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.Component(log.ComponentHTTP)
	}
	s := &Server{
		deps:    deps,
		limiter: newRateLimiter(deps.RateLimit),
		now:     time.Now,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.limiter.middleware)

	api.HandleFunc("/ledger", s.handleLedger).Methods(http.MethodGet)
	api.HandleFunc("/ledger", s.handleClearLedger).Methods(http.MethodDelete)
	api.HandleFunc("/ledger/items", s.handleAddItem).Methods(http.MethodPost)
	api.HandleFunc("/ledger/items/{id}", s.handleUpdateItemAmount).Methods(http.MethodPatch)
	api.HandleFunc("/ledger/items/{id}", s.handleRemoveItem).Methods(http.MethodDelete)
	api.HandleFunc("/ledger/commit", s.handleCommit).Methods(http.MethodPost)

	api.HandleFunc("/sync", s.handleSyncStatus).Methods(http.MethodGet)
	api.HandleFunc("/sync", s.handleSyncPending).Methods(http.MethodPost)
	api.HandleFunc("/sync/records", s.handleSyncRecords).Methods(http.MethodPost)
	api.HandleFunc("/sync/endpoint", s.handleGetEndpoint).Methods(http.MethodGet)
	api.HandleFunc("/sync/endpoint", s.handleSetEndpoint).Methods(http.MethodPut)

	api.HandleFunc("/records", s.handleListRecords).Methods(http.MethodGet)
	api.HandleFunc("/records/{id}", s.handleUpdateRecord).Methods(http.MethodPut)
	api.HandleFunc("/records/{id}", s.handleDeleteRecord).Methods(http.MethodDelete)

	api.HandleFunc("/donors", s.handleListDonors).Methods(http.MethodGet)
	api.HandleFunc("/donors", s.handleCreateDonor).Methods(http.MethodPost)
	api.HandleFunc("/donors/{id}", s.handleUpdateDonor).Methods(http.MethodPut)
	api.HandleFunc("/donors/{id}", s.handleDeactivateDonor).Methods(http.MethodDelete)

	api.HandleFunc("/types", s.handleListTypes).Methods(http.MethodGet)
	api.HandleFunc("/types/{code}", s.handleSaveType).Methods(http.MethodPut)

	api.HandleFunc("/budgets", s.handleListBudgets).Methods(http.MethodGet)
	api.HandleFunc("/budgets/{year:[0-9]+}/{code}", s.handleSaveBudget).Methods(http.MethodPut)

	api.HandleFunc("/reports/day", s.handleDayReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/month", s.handleMonthReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/trend", s.handleTrendReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/budget", s.handleBudgetReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/donor", s.handleDonorReport).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	var h http.Handler = r
	h = rejectSuspicious(h)
	h = withSecurityHeaders(h)
	h = log.Middleware(deps.Logger)(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter and drains the HTTP server once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
