package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offertory/internal/commit"
	"offertory/internal/core"
	"offertory/internal/gateway/memory"
	"offertory/internal/ledger"
	"offertory/internal/log"
	"offertory/internal/metrics"
	"offertory/internal/report"
	"offertory/internal/services"
	"offertory/internal/staging"
	"offertory/internal/syncmark"
)

type fakeTransport struct {
	calls int
	rows  []syncmark.Row
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(_ context.Context, _ string, rows []syncmark.Row) (syncmark.Delivery, error) {
	f.calls++
	f.rows = append(f.rows, rows...)
	return syncmark.Delivery{StatusCode: http.StatusOK}, nil
}

type testEnv struct {
	srv       *Server
	gw        *memory.Store
	transport *fakeTransport
}

// wednesday is 2025-01-08; the most recent Sunday is 2025-01-05.
var wednesday = time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	gw := memory.NewFromFiles(t.TempDir())
	local := staging.NewMemoryStore()
	l, err := ledger.Open(ctx, local)
	require.NoError(t, err)

	m := metrics.New()
	tr := &fakeTransport{}
	endpoints := syncmark.NewEndpointStore(gw, local)
	marker := syncmark.New(local, endpoints, tr, gw, syncmark.WithMetrics(m))
	reports := report.NewService(gw, time.Minute)

	deps := Deps{
		Ledger:    l,
		Engine:    commit.NewEngine(gw, l, marker, commit.WithInvalidator(reports), commit.WithMetrics(m)),
		Marker:    marker,
		Endpoints: endpoints,
		Records:   services.NewRecordService(gw, marker, reports),
		Donors:    services.NewDonorService(gw),
		Catalog:   services.NewCatalogService(gw),
		Budgets:   services.NewBudgetService(gw, reports),
		Reports:   reports,
		Metrics:   m,
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv := NewServer(":0", deps)
	srv.now = func() time.Time { return wednesday }
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, gw: gw, transport: tr}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (e *testEnv) seedRecords(t *testing.T) []string {
	t.Helper()
	ids, err := e.gw.InsertRecords(context.Background(), []core.OfferingRecord{
		{Date: core.NewDate(2025, 1, 5), Code: "11", CodeLabel: "십일조", Amount: core.Money{Cents: 1000000}, DonorName: "김진", OfferingNumber: "101"},
		{Date: core.NewDate(2025, 1, 5), Code: "21", CodeLabel: "주일헌금", Amount: core.Money{Cents: 500000}, DonorName: core.AnonymousName},
		{Date: core.NewDate(2024, 1, 7), Code: "11", CodeLabel: "십일조", Amount: core.Money{Cents: 800000}, DonorName: "김진", OfferingNumber: "101"},
	})
	require.NoError(t, err)
	return ids
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rr.Header().Get(log.HeaderRequestID))

	rr = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "offertory_")
}

func TestReadyReportsUnavailableStore(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Ready = func(context.Context) error { return errors.New("database unreachable") }
	})

	rr := env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "database unreachable")
}

func TestUnknownRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPut, "/api/ledger", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/.env", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/records?q=union%20select", "").Code)
}

func TestLedgerEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/ledger/items", `{"code":"11","codeLabel":"십일조","amount":"10,000","donorText":"김진"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	first := decode[core.PendingItem](t, rr)
	assert.Equal(t, int64(1000000), first.Amount.Cents)
	assert.Equal(t, "김진", first.DonorName)

	rr = env.do(t, http.MethodPost, "/api/ledger/items", `{"code":"21","amount":"500"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	second := decode[core.PendingItem](t, rr)
	assert.Equal(t, core.AnonymousName, second.DonorName)

	view := decode[ledgerView](t, env.do(t, http.MethodGet, "/api/ledger", ""))
	assert.Equal(t, 2, view.Count)
	assert.Equal(t, int64(1050000), view.Total.Cents)
	assert.Equal(t, second.ID, view.Items[0].ID)
	assert.Equal(t, "2025-01-05", view.DefaultDate.String())
	require.Len(t, view.Summary, 2)

	rr = env.do(t, http.MethodPatch, "/api/ledger/items/"+second.ID, `{"amount":"7a00"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	view = decode[ledgerView](t, rr)
	assert.Equal(t, int64(1070000), view.Total.Cents)

	rr = env.do(t, http.MethodDelete, "/api/ledger/items/"+first.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	view = decode[ledgerView](t, rr)
	assert.Equal(t, 1, view.Count)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/ledger", "").Code)
	view = decode[ledgerView](t, env.do(t, http.MethodGet, "/api/ledger", ""))
	assert.Zero(t, view.Count)
}

func TestAddItemRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"negative amount", `{"code":"11","amount":"-5"}`, http.StatusUnprocessableEntity},
		{"missing code", `{"amount":"5"}`, http.StatusUnprocessableEntity},
		{"malformed json", `{"code":`, http.StatusBadRequest},
		{"unknown field", `{"code":"11","amount":"5","extra":true}`, http.StatusBadRequest},
		{"empty body", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/ledger/items", tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decode[errorBody](t, rr).Error)
		})
	}
}

func TestCommitAndSync(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPost, "/api/ledger/commit", "").Code)

	env.do(t, http.MethodPost, "/api/ledger/items", `{"code":"11","amount":"10000","donorText":"김진"}`)
	env.do(t, http.MethodPost, "/api/ledger/items", `{"code":"21","amount":"500"}`)

	assert.Equal(t, http.StatusUnprocessableEntity,
		env.do(t, http.MethodPost, "/api/ledger/commit", `{"date":"2025-02-30"}`).Code)

	rr := env.do(t, http.MethodPost, "/api/ledger/commit", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[commitResponse](t, rr)
	assert.Equal(t, 2, res.Count)
	assert.Len(t, res.RecordIDs, 2)
	assert.Equal(t, "2025-01-05", res.Date.String())
	assert.Equal(t, 1, res.DonorsCreated)
	assert.False(t, res.NotSunday)
	assert.Empty(t, res.Warning)

	view := decode[ledgerView](t, env.do(t, http.MethodGet, "/api/ledger", ""))
	assert.Zero(t, view.Count)

	donors := decode[[]core.Donor](t, env.do(t, http.MethodGet, "/api/donors", ""))
	require.Len(t, donors, 1)
	assert.Equal(t, "김진", donors[0].Name)

	status := decode[syncStatus](t, env.do(t, http.MethodGet, "/api/sync", ""))
	assert.Equal(t, 2, status.Count)
	assert.False(t, status.Configured)

	assert.Equal(t, http.StatusPreconditionFailed, env.do(t, http.MethodPost, "/api/sync", "").Code)

	rr = env.do(t, http.MethodPut, "/api/sync/endpoint", `{"endpoint":"  https://example.test/hook  "}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://example.test/hook", decode[endpointBody](t, rr).Endpoint)

	rr = env.do(t, http.MethodPost, "/api/sync/records", fmt.Sprintf(`{"ids":[%q]}`, res.RecordIDs[0]))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sync := decode[syncmark.Result](t, rr)
	assert.Equal(t, 1, sync.Sent)
	assert.Equal(t, 1, sync.Remaining)

	rr = env.do(t, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sync = decode[syncmark.Result](t, rr)
	assert.Equal(t, 1, sync.Sent)
	assert.Zero(t, sync.Remaining)
	assert.Equal(t, 2, env.transport.calls)
	assert.Len(t, env.transport.rows, 2)

	assert.Equal(t, http.StatusPreconditionFailed, env.do(t, http.MethodPost, "/api/sync", "").Code)

	records := decode[[]core.OfferingRecord](t, env.do(t, http.MethodGet, "/api/records?year=2025&month=1", ""))
	assert.Len(t, records, 2)
}

func TestCommitFlagsNonSundayDate(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/ledger/items", `{"code":"11","amount":"1"}`)

	rr := env.do(t, http.MethodPost, "/api/ledger/commit", `{"date":"2025-01-07"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[commitResponse](t, rr)
	assert.True(t, res.NotSunday)
	assert.Equal(t, "2025-01-07", res.Date.String())
}

func TestRecordEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	ids := env.seedRecords(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/records?year=abc", "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodGet, "/api/records?month=13", "").Code)

	limited := decode[[]core.OfferingRecord](t, env.do(t, http.MethodGet, "/api/records?limit=1", ""))
	assert.Len(t, limited, 1)

	body := `{"date":"2025-01-05","code":"22","amount":300,"donorName":"김진"}`
	rr := env.do(t, http.MethodPut, "/api/records/"+ids[0], body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, ids[0], decode[core.OfferingRecord](t, rr).ID)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/records/999", body).Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		env.do(t, http.MethodPut, "/api/records/"+ids[0], `{"code":"22","amount":300}`).Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/records/"+ids[1], "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/records/"+ids[1], "").Code)
}

func TestDonorAndTypeEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/donors", `{"name":"이은혜","offeringNumber":"102"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	donor := decode[core.Donor](t, rr)
	assert.NotEmpty(t, donor.ID)

	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPost, "/api/donors", `{"name":" "}`).Code)

	rr = env.do(t, http.MethodPut, "/api/donors/"+donor.ID, `{"name":"이은혜","offeringNumber":"102","phone":"010-1111"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "010-1111", decode[core.Donor](t, rr).Phone)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/donors/999", `{"name":"x"}`).Code)

	found := decode[[]core.Donor](t, env.do(t, http.MethodGet, "/api/donors?q=은혜", ""))
	assert.Len(t, found, 1)
	unnumbered := decode[[]core.Donor](t, env.do(t, http.MethodGet, "/api/donors?withoutNumber=true", ""))
	assert.Empty(t, unnumbered)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/donors/"+donor.ID, "").Code)
	assert.Empty(t, decode[[]core.Donor](t, env.do(t, http.MethodGet, "/api/donors", "")))

	types := decode[[]core.OfferingType](t, env.do(t, http.MethodGet, "/api/types?q=2", ""))
	codes := make([]string, len(types))
	for i, ty := range types {
		codes[i] = ty.Code
	}
	assert.Equal(t, []string{"21", "22", "29"}, codes)

	rr = env.do(t, http.MethodPut, "/api/types/31", `{"label":"선교헌금","category":"선교"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "31", decode[core.OfferingType](t, rr).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPut, "/api/types/32", `{"label":""}`).Code)
}

func TestBudgetEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPut, "/api/budgets/2025/11", `{"amount":"1,000,000","note":"연간"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, int64(100000000), decode[core.BudgetRecord](t, rr).Amount.Cents)

	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPut, "/api/budgets/2025/11", `{"amount":"x"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPut, "/api/budgets/10/11", `{"amount":"1"}`).Code)

	budgets := decode[[]core.BudgetRecord](t, env.do(t, http.MethodGet, "/api/budgets", ""))
	assert.Len(t, budgets, 1)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/budgets?year=abc", "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodGet, "/api/budgets?year=10", "").Code)
}

func TestReportEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedRecords(t)

	day := decode[dayReport](t, env.do(t, http.MethodGet, "/api/reports/day", ""))
	assert.Equal(t, "2025-01-05", day.Date.String())
	assert.Equal(t, int64(1500000), day.Total.Cents)
	assert.Len(t, day.Lines, 2)

	month := decode[report.MonthAnalytics](t, env.do(t, http.MethodGet, "/api/reports/month?year=2025&month=1", ""))
	assert.Equal(t, int64(1500000), month.Total.Cents)
	assert.Equal(t, int64(800000), month.LastYearTotal.Cents)
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodGet, "/api/reports/month?month=13", "").Code)

	trend := decode[report.TrendSeries](t, env.do(t, http.MethodGet, "/api/reports/trend?year=2025", ""))
	assert.Len(t, trend.Points, 12)
	assert.Equal(t, int64(800000), trend.LastTotal.Cents)

	rr := env.do(t, http.MethodGet, "/api/reports/budget?year=2025", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	budget := decode[budgetReport](t, rr)
	assert.Equal(t, int64(1500000), budget.Actual.Cents)
	require.Len(t, budget.Progress, 1)
	assert.Equal(t, "헌금", budget.Progress[0].Category)

	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodGet, "/api/reports/donor", "").Code)
	donor := decode[report.DonorYearReport](t, env.do(t, http.MethodGet, "/api/reports/donor?number=101&year=2025", ""))
	assert.Equal(t, int64(1000000), donor.Total.Cents)
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.RateLimit = RateLimitConfig{RequestsPerMinute: 2}
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/ledger/items", `{"code":"11","amount":"1"}`).Code)
	}
	rr := env.do(t, http.MethodPost, "/api/ledger/items", `{"code":"11","amount":"1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/ledger", "").Code)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{RequestsPerMinute: 1, CleanupInterval: time.Hour})
	defer rl.stop()
	now := wednesday
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("10.0.0.1"))

	now = now.Add(11 * time.Minute)
	rl.cleanupStaleEntries()
	assert.Empty(t, rl.clients)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: x", errBadRequest), http.StatusBadRequest},
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{commit.ErrEmptyLedger, http.StatusUnprocessableEntity},
		{commit.ErrCommitInFlight, http.StatusConflict},
		{syncmark.ErrSyncInFlight, http.StatusConflict},
		{syncmark.ErrNoEndpoint, http.StatusPreconditionFailed},
		{syncmark.ErrNothingPending, http.StatusPreconditionFailed},
		{core.Persistence("insert", errors.New("boom")), http.StatusBadGateway},
		{fmt.Errorf("%w: 500", core.ErrSyncTransport), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
