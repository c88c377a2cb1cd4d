package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/time/rate"

	"github.com/Ramsey-B/lichen/pkg/metrics"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the maximum response body size (50MB, search pages in long format are large)
	MaxResponseSize = 50 * 1024 * 1024
)

// Client wraps the HTTP client with logging, pacing and size limits
type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  ectologger.Logger
}

// Config holds HTTP client configuration
type Config struct {
	Timeout           time.Duration
	MaxIdleConns      int
	IdleConnTimeout   time.Duration
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns default HTTP client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		MaxIdleConns:      20,
		IdleConnTimeout:   90 * time.Second,
		RequestsPerSecond: 5,
		Burst:             1,
	}
}

// NewClient creates a new HTTP client. A non-positive RequestsPerSecond disables pacing.
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: cfg.IdleConnTimeout,
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// HTTP returns the underlying client, e.g. for oauth2 token exchange.
func (c *Client) HTTP() *http.Client {
	return c.client
}

// Response represents an HTTP response
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	ContentType string
	Duration    time.Duration
}

// StatusError is returned by the JSON helpers for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return IsRetryableStatus(e.StatusCode)
}

// Do executes an HTTP request and returns the response
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		metrics.RemoteRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		c.logger.WithContext(ctx).WithError(err).Errorf("HTTP request failed: %s %s", req.Method, redact(req.URL))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)
	metrics.RemoteRequestDuration.WithLabelValues(req.Method).Observe(duration.Seconds())
	metrics.RemoteRequestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response too large: %d bytes (max %d)", resp.ContentLength, MaxResponseSize)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response body too large: %d bytes (max %d)", len(body), MaxResponseSize)
	}

	c.logger.WithContext(ctx).Debugf("HTTP %s %s -> %d (%s)", req.Method, redact(req.URL), resp.StatusCode, duration)

	return &Response{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Duration:    duration,
	}, nil
}

// DoJSON sends body (if non-nil) as JSON and decodes a 2xx response into out (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, url string, headers map[string]string, body, out any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if !IsSuccessStatus(resp.StatusCode) {
		return resp, &StatusError{
			Method:     method,
			URL:        redact(req.URL),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(resp.Body), 512),
		}
	}

	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, fmt.Errorf("failed to parse JSON: %w", err)
		}
	}
	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
