// ABOUTME: HTTP client for the backend API consumed by sync and export/import
// ABOUTME: Bearer auth via oauth2 token source and a timeout on every request
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harperreed/agencysync/models"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every backend request so one hung call cannot stall a drain pass.
const DefaultTimeout = 15 * time.Second

// API is the backend surface the offline engine and snapshot pipeline depend on.
type API interface {
	// Ping returns nil when the backend is reachable.
	Ping(ctx context.Context) error
	// Send performs a JSON request and only checks the status.
	Send(ctx context.Context, method, path string, body []byte) error
	// FetchExport returns the records of a collection.
	FetchExport(ctx context.Context, collection string) ([]json.RawMessage, error)
	// PostImport bulk-imports the records of a collection.
	PostImport(ctx context.Context, collection string, records []json.RawMessage) error
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	token   string
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates requests with a static bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient sets the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

var _ API = (*Client)(nil)

// NewClient creates a client for the backend rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
		c.http = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: c.token,
			TokenType:   "Bearer",
		}))
	}

	return c
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodHead, "/api/ping", nil)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) Send(ctx context.Context, method, path string, body []byte) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) FetchExport(ctx context.Context, collection string) ([]json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/export/"+url.PathEscape(collection), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var records []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode %s export: %w", collection, err)
	}
	return records, nil
}

func (c *Client) PostImport(ctx context.Context, collection string, records []json.RawMessage) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode %s import: %w", collection, err)
	}
	return c.Send(ctx, http.MethodPost, "/api/import/"+url.PathEscape(collection), body)
}

// do issues the request; on success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request timeout once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// RequestFor maps a pending item to the backend call that replays it.
func RequestFor(item models.PendingItem) (method, path string, body []byte) {
	collection := "/api/" + url.PathEscape(item.Collection)
	switch item.Operation {
	case models.OperationDelete:
		return http.MethodDelete, collection + "/" + url.PathEscape(item.ID), nil
	case models.OperationCreate:
		return http.MethodPost, collection, item.Data
	default:
		return http.MethodPut, collection + "/" + url.PathEscape(item.ID), item.Data
	}
}
