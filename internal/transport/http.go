package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/s2snet"
)

const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Poster performs one dispatcher exchange: it posts body and returns the raw
// reply. Only failures to obtain a reply are errors; the body is returned
// whatever the HTTP status.
type Poster interface {
	Post(ctx context.Context, body []byte) ([]byte, error)
}

// PosterFunc adapts a function to the Poster interface.
type PosterFunc func(ctx context.Context, body []byte) ([]byte, error)

// Post calls f.
func (f PosterFunc) Post(ctx context.Context, body []byte) ([]byte, error) {
	return f(ctx, body)
}

// RateLimitConfig defines client-side throttling of dispatcher requests
type RateLimitConfig struct {
	// RequestsPerSecond defines how many requests may be posted per second
	RequestsPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if throttling is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default throttling configuration
// Allows 50 requests per second with burst of 100
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerSecond: 50,
		Burst:             100,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with throttling disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// HTTPConfig configures an HTTPPoster.
type HTTPConfig struct {
	// URL is the dispatcher endpoint. A bare host is expanded by NormalizeURL.
	URL string
	// Timeout bounds a single exchange when the caller's context has no deadline.
	Timeout   time.Duration
	RateLimit *RateLimitConfig
	// Client defaults to a client with Timeout.
	Client *http.Client
}

// HTTPPoster posts packets to the dispatcher over HTTP(S).
type HTTPPoster struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPPoster creates a poster for cfg.
func NewHTTPPoster(cfg HTTPConfig) *HTTPPoster {
	if cfg.Timeout <= 0 {
		cfg.Timeout = s2snet.DefaultRequestTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		limiter = rate.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	return &HTTPPoster{
		url:     NormalizeURL(cfg.URL),
		client:  client,
		limiter: limiter,
	}
}

// URL returns the normalized dispatcher endpoint.
func (p *HTTPPoster) URL() string {
	return p.url
}

// Post sends body as application/json and returns the reply body.
func (p *HTTPPoster) Post(ctx context.Context, body []byte) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("response body exceeds maximum %d bytes", maxResponseSize)
	}
	return data, nil
}

// NormalizeURL expands the dispatcher endpoint. An empty value selects the
// default backend; a bare host gets the https scheme and the dispatcher path.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s2snet.DefaultEndpointURL
	}
	if strings.Contains(raw, "://") {
		return raw
	}
	raw = strings.TrimSuffix(raw, "/")
	if strings.Contains(raw, "/") {
		return "https://" + raw
	}
	return "https://" + raw + s2snet.DefaultDispatcherPath
}
