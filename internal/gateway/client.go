package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/calls"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/ledger"
)

// Client is the thin outbound adapter to the administrative backend's
// active-call and CDR endpoints. Every call may fail independently; callers
// log failures and keep going — the local ledger and tracker stay
// authoritative, the dashboard is a mirror.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// UpsertActiveCall creates or updates the active-call mirror row, keyed by
// call id on the backend side.
func (c *Client) UpsertActiveCall(ctx context.Context, snap calls.ActiveCallSnapshot) error {
	return c.do(ctx, http.MethodPost, "/active-calls", snap)
}

// RemoveActiveCall deletes the mirror row. A 404 means it was already gone;
// removal is idempotent.
func (c *Client) RemoveActiveCall(ctx context.Context, callID string) error {
	return c.do(ctx, http.MethodDelete, "/active-calls/"+url.PathEscape(callID), nil)
}

// CreateCDR appends a finalized call detail record.
func (c *Client) CreateCDR(ctx context.Context, cdr ledger.CDR) error {
	return c.do(ctx, http.MethodPost, "/cdr", cdr)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("gateway: encode %s: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("gateway: build %s %s: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return nil
}
