// Package httpclient provides the pooled HTTP session, JSON GET
// memoization and pluggable authenticators described in spec.md §4.4.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

// Config tunes the pooled HTTP client. Zero-value fields fall back to the
// defaults from spec.md §5 ("Timeouts").
type Config struct {
	ConnectTimeout    time.Duration // default 30s
	ReadTimeout       time.Duration // default 30s
	KeepAliveTimeout  time.Duration // default 60s
	MaxConnections    int           // default 10
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = 60 * time.Second
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	return c
}

// Client is a shared, pooled HTTP session with a concurrent-request cap,
// a pluggable Authenticator, and memoization of successful JSON GETs keyed
// by URL.
type Client struct {
	http *http.Client
	auth Authenticator
	sem  *semaphore.Weighted

	mu        sync.Mutex
	jsonCache map[string][]byte
}

// New builds a Client. auth may be nil for unauthenticated catalogs (tests).
func New(cfg Config, auth Authenticator) *Client {
	cfg = cfg.withDefaults()
	transport := &http.Transport{
		MaxIdleConnsPerHost: cfg.MaxConnections,
		IdleConnTimeout:     cfg.KeepAliveTimeout,
		DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		auth:      auth,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConnections)),
		jsonCache: make(map[string][]byte),
	}
}

// Do acquires a concurrency slot, applies the authenticator, and performs
// the request with a bounded exponential-backoff retry on transient
// network failures only (never on 4xx responses, which are not retried
// here — see spec.md §7 policy).
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	if c.auth != nil {
		if err := c.auth.Authenticate(req); err != nil {
			return nil, fmt.Errorf("authenticate request: %w", err)
		}
	}

	var resp *http.Response
	op := func() error {
		r, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err // transient, retry
		}
		resp = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetJSON performs a memoized JSON GET: a prior successful response for the
// same URL is replayed without another round-trip (spec.md §4.4 "SHOULD
// memoize JSON GETs at the URL level"). Only successful (2xx) responses are
// cached.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	c.mu.Lock()
	cached, ok := c.jsonCache[url]
	c.mu.Unlock()
	if ok {
		return json.Unmarshal(cached, out)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body for %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	c.mu.Lock()
	c.jsonCache[url] = body
	c.mu.Unlock()

	return json.Unmarshal(body, out)
}

// InvalidateJSON drops a cached URL, forcing the next GetJSON to re-fetch.
func (c *Client) InvalidateJSON(url string) {
	c.mu.Lock()
	delete(c.jsonCache, url)
	c.mu.Unlock()
}

// HTTPClient exposes the underlying *http.Client for components that need
// raw streaming access rather than JSON. It does NOT apply the configured
// Authenticator — callers that stream requests against an authenticated
// endpoint (the download engine) must use AuthenticatedHTTPClient instead.
func (c *Client) HTTPClient() *http.Client { return c.http }

// authTransport applies an Authenticator to every request before handing it
// to the underlying transport, so a plain *http.Client can be authenticated
// without going through Do's JSON memoization or concurrency semaphore.
type authTransport struct {
	base http.RoundTripper
	auth Authenticator
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.auth == nil {
		return t.base.RoundTrip(req)
	}
	cloned := req.Clone(req.Context())
	if err := t.auth.Authenticate(cloned); err != nil {
		return nil, fmt.Errorf("authenticate request: %w", err)
	}
	return t.base.RoundTrip(cloned)
}

// AuthenticatedHTTPClient returns an *http.Client sharing this Client's
// transport and timeout, but with the configured Authenticator applied to
// every request via its RoundTripper. Use this (not HTTPClient) for
// components like the download engine that issue their own HEAD/GET
// requests outside of Do — download handles returned by
// catalog.RemoteCatalog are plain unsigned URLs, so the file server sees
// these requests as anonymous unless they pass through here.
func (c *Client) AuthenticatedHTTPClient() *http.Client {
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &authTransport{base: base, auth: c.auth},
		Timeout:   c.http.Timeout,
	}
}

// Authenticated runs req through the configured Authenticator, or is a
// no-op when none is configured.
func (c *Client) Authenticated(req *http.Request) error {
	if c.auth == nil {
		return nil
	}
	return c.auth.Authenticate(req)
}

// StatusError reports a non-2xx HTTP response, distinguishable so callers
// can map it into the spec.md §7 error taxonomy (404/410 -> NotFound,
// 401/403 -> Forbidden, else -> Protocol).
type StatusError struct {
	URL        string
	StatusCode int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("http %d for %s", e.StatusCode, e.URL)
}
