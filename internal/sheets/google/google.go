// Package google mirrors offering records into a Google spreadsheet through
// the Sheets API. Unlike the script webhook, the API reports how many rows it
// wrote, so deliveries can be confirmed.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"offertory/internal/core"
	applog "offertory/internal/log"
	"offertory/internal/syncmark"
)

// DefaultSheetName is the tab rows are appended to.
const DefaultSheetName = "Offerings"

type Config struct {
	SheetName string
	// Service account credentials, inline or as a file path. When both are
	// empty GOOGLE_APPLICATION_CREDENTIALS is consulted.
	CredentialsJSON string
	CredentialsFile string
	// OAuth, when its token file is set, takes precedence over the service
	// account.
	OAuth OAuthConfig
}

type Client struct {
	svc       *gsheet.Service
	sheetName string
	logger    *slog.Logger
}

var _ syncmark.Transport = (*Client)(nil)

// New creates a Sheets client authenticated with a saved OAuth user token or
// a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []goption.ClientOption
	if cfg.OAuth.Enabled() {
		ts, err := oauthTokenSource(ctx, cfg.OAuth)
		if err != nil {
			return nil, err
		}
		opts = append(opts, goption.WithTokenSource(ts))
	} else {
		creds, err := loadCredentials(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope))
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SheetName), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, sheetName string) *Client {
	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	return &Client{svc: svc, sheetName: sheetName, logger: applog.Component(applog.ComponentSheets)}
}

func (c *Client) Name() string { return "sheets" }

// Send appends rows below the last row of the sheet. endpoint is either the
// spreadsheet id or a spreadsheet URL.
func (c *Client) Send(ctx context.Context, endpoint string, rows []syncmark.Row) (syncmark.Delivery, error) {
	if c.svc == nil {
		return syncmark.Delivery{}, errors.New("sheets service not initialized")
	}
	spreadsheetID := SpreadsheetID(endpoint)
	if spreadsheetID == "" {
		return syncmark.Delivery{}, syncmark.ErrNoEndpoint
	}

	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = r.Values()
	}
	rng := fmt.Sprintf("%s!A:G", c.sheetName)

	resp, err := c.svc.Spreadsheets.Values.Append(spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return syncmark.Delivery{}, fmt.Errorf("%w: append to %s: %w", core.ErrSyncTransport, rng, err)
	}

	d := syncmark.Delivery{StatusCode: resp.HTTPStatusCode}
	if resp.Updates != nil {
		d.Confirmed = resp.Updates.UpdatedRows == int64(len(rows))
		if !d.Confirmed {
			c.logger.WarnContext(ctx, "Sheets API wrote fewer rows than sent",
				"sent", len(rows), "updated", resp.Updates.UpdatedRows)
		}
	}
	return d, nil
}

// SpreadsheetID extracts the id from a spreadsheet URL; anything that is not
// a URL is returned trimmed.
func SpreadsheetID(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	const marker = "/spreadsheets/d/"
	i := strings.Index(endpoint, marker)
	if i < 0 {
		if strings.Contains(endpoint, "://") {
			return ""
		}
		return endpoint
	}
	id := endpoint[i+len(marker):]
	if j := strings.IndexAny(id, "/?#"); j >= 0 {
		id = id[:j]
	}
	return id
}

func loadCredentials(cfg Config) ([]byte, error) {
	inline := strings.TrimSpace(cfg.CredentialsJSON)
	file := strings.TrimSpace(cfg.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	}
	return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
}

// NewHTTPClient returns a pooled client suited to the Google APIs. It is
// the base transport for callers that authenticate with their own token
// source.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   5,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
