package syncmark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"offertory/internal/core"
	applog "offertory/internal/log"
)

// Webhook posts the rows as a JSON array to a spreadsheet script URL. The
// response body is not interpreted, so a delivery is never confirmed.
type Webhook struct {
	client *http.Client
	logger *slog.Logger
}

func NewWebhook(timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{
		client: &http.Client{Timeout: timeout},
		logger: applog.Component(applog.ComponentSync),
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, endpoint string, rows []Row) (Delivery, error) {
	body, err := json.Marshal(rows)
	if err != nil {
		return Delivery{}, fmt.Errorf("encode rows: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: build request: %w", core.ErrSyncTransport, err)
	}
	// Script endpoints read the payload as a plain-text body.
	req.Header.Set("Content-Type", "text/plain")

	resp, err := w.client.Do(req)
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: %w", core.ErrSyncTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 400 {
		w.logger.WarnContext(ctx, "Spreadsheet webhook answered with an error status",
			applog.FieldStatusCode, resp.StatusCode)
	}
	return Delivery{StatusCode: resp.StatusCode}, nil
}
