// Package httpx is the HTTP plumbing shared by provider adapters: bounded
// timeouts, per-provider rate limiting, tracing and classification of
// failures into provider errors.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"bankfeed/internal/domain/provider"
)

const (
	DefaultTimeout = 15 * time.Second
	MaxTimeout     = 120 * time.Second
	maxBodyBytes   = 10 << 20
)

// Options configures a Client.
type Options struct {
	Limiter   *rate.Limiter
	Transport http.RoundTripper
}

// Client performs provider calls for one provider code.
type Client struct {
	provider   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client whose requests are traced and, when a limiter
// is given, throttled.
func NewClient(providerCode string, opts Options) *Client {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		provider:   providerCode,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(base)},
		limiter:    opts.Limiter,
	}
}

// Request is one GET against a provider.
type Request struct {
	Op      string
	URL     string
	Query   url.Values
	Headers map[string]string
	Timeout time.Duration
}

// GetJSON issues req and decodes a 2xx JSON body into out. Every failure is
// a *provider.Error.
func (c *Client) GetJSON(ctx context.Context, req Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return provider.TransportError(c.provider, req.Op, err)
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := req.URL
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return provider.ConfigError(c.provider, req.Op, "invalid request url: %v", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.TransportError(c.provider, req.Op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return provider.TransportError(c.provider, req.Op, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return provider.StatusError(c.provider, req.Op, resp.StatusCode, errorMessage(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &provider.Error{
			Provider:   c.provider,
			Op:         req.Op,
			StatusCode: http.StatusBadGateway,
			Message:    "invalid response body",
			Cause:      err,
		}
	}
	return nil
}

// errorMessage prefers the error/message fields of a JSON error body.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && (e.Error != "" || e.Message != "") {
		return strings.Trim(e.Error+" - "+e.Message, " -")
	}
	return strings.TrimSpace(string(body))
}

// ClampTimeout reads timeout_ms from connector config, bounded to
// (0, MaxTimeout]. Missing or invalid values give DefaultTimeout.
func ClampTimeout(cfg map[string]any) time.Duration {
	ms, ok := Number(cfg, "timeout_ms")
	if !ok || ms <= 0 {
		return DefaultTimeout
	}
	d := time.Duration(ms) * time.Millisecond
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

// String reads a trimmed string setting.
func String(cfg map[string]any, key string) string {
	v, ok := cfg[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Number reads a numeric setting that may arrive as a JSON number or string.
func Number(cfg map[string]any, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		var f float64
		_, err := fmt.Sscanf(strings.TrimSpace(v), "%g", &f)
		return f, err == nil
	}
	return 0, false
}

// JoinURL appends path to a base URL without doubling slashes.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
