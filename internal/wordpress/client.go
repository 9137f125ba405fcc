// Package wordpress is a client for the WordPress REST API, plus the
// content and site-structure tool catalogs built on it.
package wordpress

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

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/cache"
	"github.com/nugget/blockwright/internal/httpkit"
)

// Cache namespaces for read-mostly lookups.
const (
	nsBlockTypes   = "wp.block_types"
	nsSite         = "wp.site"
	nsGlobalStyles = "wp.global_styles"
)

// Client is a WordPress REST API client. Credentials are a pre-issued
// application password sent as HTTP Basic auth.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *slog.Logger
	watcher    readyChecker
}

// readyChecker is satisfied by connwatch.Watcher.
type readyChecker interface {
	IsReady() bool
}

// Option configures a Client.
type Option func(*Client)

// WithCache caches block schemas, site info and global styles for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		cl.cacheTTL = ttl
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(cl *Client) { cl.httpClient = hc }
}

// NewClient creates a client for the site at siteURL.
func NewClient(siteURL, username, appPassword string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:  strings.TrimRight(siteURL, "/") + "/wp-json",
		cache:    cache.Noop{},
		cacheTTL: 5 * time.Minute,
		logger:   logger.With("component", "wordpress"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithBasicAuth(username, appPassword),
			httpkit.WithLogger(logger),
		),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetWatcher sets the connection watcher for health status queries.
func (c *Client) SetWatcher(w readyChecker) {
	c.watcher = w
}

// IsReady reports whether the site is currently reachable. It is true
// when no watcher is configured.
func (c *Client) IsReady() bool {
	if c.watcher == nil {
		return true
	}
	return c.watcher.IsReady()
}

// Ping checks that the REST API index answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/", nil, nil)
}

// errorBody is the REST API's error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do performs a request against the REST API and decodes the JSON reply
// into result when non-nil. Non-2xx replies are classified by status.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.External("wordpress", fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return apperr.External("wordpress", fmt.Errorf("decode %s: %w", path, err))
		}
	}
	return nil
}

// classify maps a REST API failure to an apperr kind.
func classify(status int, raw string) error {
	msg := raw
	var eb errorBody
	if json.Unmarshal([]byte(raw), &eb) == nil && eb.Message != "" {
		msg = eb.Message
		if eb.Code != "" {
			msg = eb.Code + ": " + eb.Message
		}
	}
	switch status {
	case http.StatusBadRequest:
		return apperr.Validation("wordpress: %s", msg)
	case http.StatusNotFound, http.StatusGone:
		return apperr.NotFound("wordpress: %s", msg)
	case http.StatusConflict:
		return apperr.Conflict("wordpress: %s", msg)
	case http.StatusTooManyRequests:
		return apperr.RateLimit("wordpress: %s", msg)
	default:
		return apperr.External("wordpress", fmt.Errorf("API error %d: %s", status, msg))
	}
}

// cached returns the cached value for key, or calls fetch and caches
// its result. Cache failures only cost a refetch.
func cached[T any](ctx context.Context, c *Client, namespace, key string, fetch func() (T, error)) (T, error) {
	var v T
	if cache.GetJSON(ctx, c.cache, namespace, key, &v) {
		return v, nil
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	if err := cache.SetJSON(ctx, c.cache, namespace, key, v, c.cacheTTL); err != nil {
		c.logger.Debug("cache write failed", "namespace", namespace, "key", key, "error", err)
	}
	return v, nil
}

func (c *Client) invalidate(ctx context.Context, namespace, key string) {
	if err := c.cache.Delete(ctx, namespace, key); err != nil {
		c.logger.Debug("cache invalidate failed", "namespace", namespace, "key", key, "error", err)
	}
}

func query(params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		if val != "" {
			v.Set(k, val)
		}
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}
