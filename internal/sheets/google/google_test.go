package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"offertory/internal/core"
	"offertory/internal/syncmark"
)

// newTestClient points a Sheets client at srv using a static bearer token.
func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, NewHTTPClient(5*time.Second))
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}))

	svc, err := gsheet.NewService(context.Background(),
		goption.WithHTTPClient(httpClient),
		goption.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return NewWithService(svc, "")
}

func TestSendAppendsRows(t *testing.T) {
	var (
		gotPath  string
		gotQuery string
		gotAuth  string
		gotBody  gsheet.ValueRange
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1","updates":{"updatedRows":2}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	rows := []syncmark.Row{
		syncmark.RowFromRecord(core.OfferingRecord{Date: core.NewDate(2025, 1, 5), Code: "11", CodeLabel: "십일조", OfferingNumber: "122", DonorName: "김용준", Amount: core.Money{Cents: 25000}}),
		syncmark.RowFromRecord(core.OfferingRecord{Date: core.NewDate(2025, 1, 5), Code: "29", Amount: core.Money{Cents: 5000}, Note: "신년감사"}),
	}

	d, err := c.Send(context.Background(), "https://docs.google.com/spreadsheets/d/sheet-1/edit#gid=0", rows)
	require.NoError(t, err)
	assert.True(t, d.Confirmed)
	assert.Equal(t, http.StatusOK, d.StatusCode)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.True(t, strings.HasPrefix(gotPath, "/v4/spreadsheets/sheet-1/values/"), gotPath)
	assert.True(t, strings.HasSuffix(gotPath, ":append"), gotPath)
	assert.Contains(t, gotQuery, "valueInputOption=USER_ENTERED")
	assert.Contains(t, gotQuery, "insertDataOption=INSERT_ROWS")
	require.Len(t, gotBody.Values, 2)
	assert.Equal(t, []any{"2025-01-05", "29", "", "", core.AnonymousName, 50.0, "신년감사"}, gotBody.Values[1])
}

func TestSendUnconfirmedOnShortWrite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"updates":{"updatedRows":1}}`))
	}))
	defer srv.Close()

	d, err := newTestClient(t, srv).Send(context.Background(), "sheet-1", []syncmark.Row{{}, {}})
	require.NoError(t, err)
	assert.False(t, d.Confirmed)
}

func TestSendAPIErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"The caller does not have permission"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Send(context.Background(), "sheet-1", []syncmark.Row{{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSyncTransport)
}

func TestSendRejectsNonSpreadsheetURL(t *testing.T) {
	c := NewWithService(&gsheet.Service{}, "Tab")
	_, err := c.Send(context.Background(), "https://script.google.com/macros/s/abc/exec", []syncmark.Row{{}})
	assert.ErrorIs(t, err, syncmark.ErrNoEndpoint)
}

func TestSpreadsheetID(t *testing.T) {
	tests := map[string]string{
		"abc123":  "abc123",
		"  abc  ": "abc",
		"https://docs.google.com/spreadsheets/d/1AbC-_x/edit#gid=0": "1AbC-_x",
		"https://docs.google.com/spreadsheets/d/1AbC?usp=sharing":   "1AbC",
		"https://script.google.com/macros/s/xyz/exec":               "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SpreadsheetID(in), in)
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := loadCredentials(Config{})
	assert.Error(t, err)

	b, err := loadCredentials(Config{CredentialsJSON: ` {"type":"service_account"} `})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"service_account"}`, string(b))

	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"k":1}`), 0o600))
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", path)
	b, err = loadCredentials(Config{})
	require.NoError(t, err)
	assert.Equal(t, `{"k":1}`, string(b))

	_, err = loadCredentials(Config{CredentialsFile: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}
