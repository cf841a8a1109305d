package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultUserAgent is the user agent string used for upstream requests.
const DefaultUserAgent = "coinsentinel/1.0 (+https://github.com/seenimoa/coinsentinel)"

// maxBodyBytes bounds how much of an upstream body is read. The full coin
// list is a few MiB.
const maxBodyBytes = 64 << 20

// HTTPError wraps a non-success upstream response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// StatusCode returns the upstream status carried by err, or 0 when err is
// not an *HTTPError.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// UpstreamOptions configures an Upstream client.
type UpstreamOptions struct {
	Timeout   time.Duration     // per-request bound; 0 means 10s
	UserAgent string            // defaults to DefaultUserAgent
	Headers   map[string]string // sent on every request (API keys etc.)
	Limiter   *RateLimiter      // optional, shared across clients of one provider
	Client    *http.Client      // optional, defaults to a fresh client
}

// Upstream performs bounded, rate-limited GET requests against a provider.
type Upstream struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	headers   map[string]string
	limiter   *RateLimiter
}

// NewUpstream creates an upstream client.
func NewUpstream(opts UpstreamOptions) *Upstream {
	u := &Upstream{
		client:    opts.Client,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		headers:   opts.Headers,
		limiter:   opts.Limiter,
	}
	if u.client == nil {
		u.client = &http.Client{}
	}
	if u.timeout <= 0 {
		u.timeout = 10 * time.Second
	}
	if u.userAgent == "" {
		u.userAgent = DefaultUserAgent
	}
	return u
}

// Get performs a GET request and returns the full response body.
// Statuses >= 400 are returned as *HTTPError. Every call is bounded by the
// configured timeout, on top of whatever deadline ctx already carries.
func (u *Upstream) Get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	if err := u.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", u.userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range u.headers {
		req.Header.Set(k, v)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", url, err)
	}
	return body, nil
}
