package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single gateway verification call.
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 1 << 20
)

// Option configures an adapter.
type Option func(*client)

// WithBaseURL overrides the gateway API base URL (used by tests and sandboxes).
func WithBaseURL(base string) Option {
	return func(c *client) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			c.baseURL = base
		}
	}
}

// WithHTTPClient sets the HTTP client used for gateway calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-call timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

type client struct {
	baseURL string
	secret  string
	http    *http.Client
	timeout time.Duration
}

func newClient(base, secret string, opts []Option) client {
	c := client{
		baseURL: base,
		secret:  strings.TrimSpace(secret),
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

// getJSON performs an authenticated GET and returns the HTTP status and raw body.
// Transport failures and 5xx responses are returned as errors.
func (c client) getJSON(ctx context.Context, provider, url string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: build request: %w", provider, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, unavailable(provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, unavailable(provider, err)
	}
	if resp.StatusCode >= 500 {
		return resp.StatusCode, body, unavailable(provider, fmt.Errorf("upstream status %d", resp.StatusCode))
	}
	return resp.StatusCode, body, nil
}

// objectOrEmpty decodes raw into a map when it holds a JSON object.
// Gateways send metadata as "", null, or a JSON-encoded string in the wild.
func objectOrEmpty(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err == nil {
		if out == nil {
			out = map[string]any{}
		}
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.HasPrefix(strings.TrimSpace(s), "{") {
		m := map[string]any{}
		if json.Unmarshal([]byte(s), &m) == nil {
			return m
		}
	}
	return map[string]any{}
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
