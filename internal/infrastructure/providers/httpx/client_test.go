package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"bankfeed/internal/domain/provider"
)

func TestGetJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2026-01-01", r.URL.Query().Get("from"))
		w.Write([]byte(`{"name":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient("TEST", Options{})
	var out struct{ Name string }
	err := c.GetJSON(context.Background(), Request{
		Op:      "ping",
		URL:     srv.URL,
		Query:   url.Values{"from": {"2026-01-01"}},
		Headers: map[string]string{"Authorization": "Bearer tok"},
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, "ok", out.Name)
}

func TestGetJSON_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		message   string
		client    bool
		transient bool
	}{
		{"unauthorized", 401, `{"error":"unauthorized","message":"bad key"}`, "unauthorized - bad key", true, false},
		{"not found plain", 404, "nope", "nope", true, false},
		{"server error", 503, `{"message":"down"}`, "down", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewClient("TEST", Options{}).GetJSON(context.Background(), Request{Op: "pull", URL: srv.URL}, &struct{}{})

			pe, ok := provider.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.message, pe.Message)
			assert.Equal(t, "TEST", pe.Provider)
			assert.Equal(t, tt.client, pe.IsClientError())
			assert.Equal(t, tt.transient, pe.IsTransient())
		})
	}
}

func TestGetJSON_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	err := NewClient("TEST", Options{}).GetJSON(context.Background(), Request{Op: "pull", URL: srv.URL}, &struct{}{})

	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, pe.StatusCode)
}

func TestGetJSON_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := NewClient("TEST", Options{}).GetJSON(context.Background(), Request{Op: "pull", URL: srv.URL, Timeout: 20 * time.Millisecond}, &struct{}{})

	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusGatewayTimeout, pe.StatusCode)
	assert.True(t, pe.IsTransient())
}

func TestGetJSON_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	err := NewClient("TEST", Options{}).GetJSON(context.Background(), Request{Op: "pull", URL: addr}, &struct{}{})

	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, pe.StatusCode)
}

func TestGetJSON_RateLimited(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient("TEST", Options{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})
	require.NoError(t, c.GetJSON(context.Background(), Request{Op: "a", URL: srv.URL}, &struct{}{}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.GetJSON(ctx, Request{Op: "b", URL: srv.URL}, &struct{}{})

	_, ok := provider.AsError(err)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
}

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
		want time.Duration
	}{
		{"missing", map[string]any{}, DefaultTimeout},
		{"nil config", nil, DefaultTimeout},
		{"number", map[string]any{"timeout_ms": float64(5000)}, 5 * time.Second},
		{"string", map[string]any{"timeout_ms": "2500"}, 2500 * time.Millisecond},
		{"zero", map[string]any{"timeout_ms": float64(0)}, DefaultTimeout},
		{"negative", map[string]any{"timeout_ms": float64(-1)}, DefaultTimeout},
		{"capped", map[string]any{"timeout_ms": float64(600000)}, MaxTimeout},
		{"garbage", map[string]any{"timeout_ms": "soon"}, DefaultTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampTimeout(tt.cfg))
		})
	}
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://x/api/accounts", JoinURL("https://x/api/", "/accounts"))
	assert.Equal(t, "https://x/api/accounts", JoinURL("https://x/api", "accounts"))
}

func TestLimits(t *testing.T) {
	limits, err := ParseLimits([]byte(`
rate_limits:
  open_finance:
    requests_per_second: 3
    burst: 5
  REST_JSON:
    requests_per_second: 0.5
`))
	require.NoError(t, err)

	assert.Equal(t, RateLimit{RequestsPerSecond: 3, Burst: 5}, limits.RateLimits["OPEN_FINANCE"])
	assert.Equal(t, 1, limits.RateLimits["REST_JSON"].Burst)

	l := limits.Limiter("open_finance")
	require.NotNil(t, l)
	assert.Equal(t, rate.Limit(3), l.Limit())
	assert.Equal(t, 5, l.Burst())
	assert.Nil(t, limits.Limiter("OTHER"))

	var nilLimits *Limits
	assert.Nil(t, nilLimits.Limiter("OPEN_FINANCE"))
}

func TestLimits_Invalid(t *testing.T) {
	_, err := ParseLimits([]byte("rate_limits:\n  X: {requests_per_second: 0}\n"))
	assert.Error(t, err)

	_, err = ParseLimits([]byte("rate_limits: [1, 2]"))
	assert.Error(t, err)
}

func TestLoadLimits(t *testing.T) {
	empty, err := LoadLimits("")
	require.NoError(t, err)
	assert.Empty(t, empty.RateLimits)

	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limits:\n  A: {requests_per_second: 1, burst: 2}\n"), 0o600))
	limits, err := LoadLimits(path)
	require.NoError(t, err)
	assert.Equal(t, 2, limits.RateLimits["A"].Burst)

	_, err = LoadLimits(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
