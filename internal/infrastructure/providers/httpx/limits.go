package httpx

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// RateLimit throttles outbound calls to one provider.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Limits is the provider limits file:
//
//	rate_limits:
//	  OPEN_FINANCE: {requests_per_second: 3, burst: 5}
type Limits struct {
	RateLimits map[string]RateLimit `yaml:"rate_limits"`
}

// LoadLimits reads a limits file. An empty path yields no limits.
func LoadLimits(path string) (*Limits, error) {
	if path == "" {
		return &Limits{RateLimits: map[string]RateLimit{}}, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to read provider limits: %w", err)
	}
	return ParseLimits(data)
}

// ParseLimits decodes limits YAML and normalizes provider codes.
func ParseLimits(data []byte) (*Limits, error) {
	var raw Limits
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse provider limits: %w", err)
	}
	limits := &Limits{RateLimits: make(map[string]RateLimit, len(raw.RateLimits))}
	for code, l := range raw.RateLimits {
		if l.RequestsPerSecond <= 0 {
			return nil, fmt.Errorf("provider %s: requests_per_second must be positive", code)
		}
		if l.Burst <= 0 {
			l.Burst = 1
		}
		limits.RateLimits[strings.ToUpper(strings.TrimSpace(code))] = l
	}
	return limits, nil
}

// Limiter returns the limiter for a provider, or nil when it is unthrottled.
func (l *Limits) Limiter(providerCode string) *rate.Limiter {
	if l == nil {
		return nil
	}
	rl, ok := l.RateLimits[strings.ToUpper(providerCode)]
	if !ok {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.Burst)
}
