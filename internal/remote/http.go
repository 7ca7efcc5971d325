package remote

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

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// IdempotencyHeader carries the mutation id on every apply request.
const IdempotencyHeader = "Idempotency-Key"

// HTTPClient talks to a REST backend:
//
//	GET  /health
//	GET  /tenants/{tenant}/snapshot
//	POST /tenants/{tenant}/mutations
//
// 409 and 422 responses decode into a *BusinessError. Everything else
// that is not 2xx is transient.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	client       *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithAPIKey sends key in header on every request. An empty header means
// "apikey".
func WithAPIKey(header, key string) HTTPOption {
	return func(c *HTTPClient) {
		if header == "" {
			header = "apikey"
		}
		c.apiKeyHeader = header
		c.apiKey = key
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) { c.client.Timeout = d }
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = hc }
}

// NewHTTPClient creates a client for baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Probe implements Prober.
func (c *HTTPClient) Probe(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// FetchSnapshot implements SnapshotSource.
func (c *HTTPClient) FetchSnapshot(ctx context.Context, tenantID string) (domain.Snapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, "/tenants/"+url.PathEscape(tenantID)+"/snapshot", nil, nil)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return domain.Snapshot{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Apply implements Applier.
func (c *HTTPClient) Apply(ctx context.Context, m domain.Mutation) (Ack, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return Ack{}, NewBusinessError(CodeInvalidPayload, "encode mutation: %v", err)
	}

	headers := map[string]string{
		IdempotencyHeader: m.ID,
		"Content-Type":    "application/json",
	}
	resp, err := c.do(ctx, http.MethodPost, "/tenants/"+url.PathEscape(m.TenantID)+"/mutations", bytes.NewReader(body), headers)
	if err != nil {
		return Ack{}, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return Ack{}, fmt.Errorf("apply %s: %w", m.ID, err)
	}
	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return Ack{}, fmt.Errorf("decode ack %s: %w", m.ID, err)
	}
	return ack, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		var be BusinessError
		if err := json.NewDecoder(resp.Body).Decode(&be); err != nil || be.Code == "" {
			be = BusinessError{Code: CodeInvalidPayload, Message: resp.Status}
		}
		return &be
	case resp.StatusCode == http.StatusNotFound:
		return NewBusinessError(CodeNotFound, "%s", resp.Status)
	default:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("remote returned %s", resp.Status)
	}
}
