// Package client provides the resilient HTTP fetcher used against the
// catalog and exchange-rate services: classified errors, capped exponential
// backoff, and thin JSON/text decoders on top.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/tcgdex-snapshot/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_http_requests_total",
		Help: "Total upstream requests by host and status",
	}, []string{"host", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snapshot_http_request_duration_seconds",
		Help:    "Upstream request duration in seconds by host",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 90},
	}, []string{"host"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_http_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snapshot_http_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_http_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Limiter gates each outgoing attempt. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Client is a blocking, sequential HTTP fetcher with retry.
type Client struct {
	httpClient *http.Client
	policy     RetryPolicy
	userAgent  string
	limiter    Limiter
	sleep      SleepFunc
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// UserAgent header sent with every request
	UserAgent string

	// Timeout applies to each individual request
	Timeout time.Duration

	// Retry policy for transient failures
	Retry RetryPolicy

	// Limiter is optional; nil disables request-rate limiting
	Limiter Limiter

	// Sleep is optional; defaults to a context-aware timer sleep
	Sleep SleepFunc
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent: "Mozilla/5.0",
		Timeout:   90 * time.Second,
		Retry:     DefaultRetryPolicy(),
	}
}

// New creates a new fetch client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = ratelimit.SleepContext
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		policy:    cfg.Retry,
		userAgent: cfg.UserAgent,
		limiter:   cfg.Limiter,
		sleep:     sleep,
		logger:    log.With().Str("component", "fetcher").Logger(),
	}, nil
}

// Fetch performs a GET and returns the response body. Transient failures
// are retried per the policy; terminal HTTP statuses return a *StatusError
// at once; exhaustion returns an *ExhaustedError.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	host := hostOf(rawURL)

	var body []byte
	err := c.retryWithBackoff(ctx, rawURL, func() error {
		var attemptErr error
		body, attemptErr = c.do(ctx, rawURL, host)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, rawURL, host string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug().Str("url", rawURL).Msg("Executing request")

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(host).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(host, "network_error").Inc()
		c.logger.Debug().Err(err).Str("url", rawURL).Msg("HTTP request failed")
		return nil, &networkError{Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &networkError{Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// GetJSON fetches rawURL and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	body, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode json from %s: %w", rawURL, err)
	}
	return nil
}

// GetText fetches rawURL and returns the body as UTF-8 text, replacing
// invalid sequences.
func (c *Client) GetText(ctx context.Context, rawURL string) (string, error) {
	body, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(body), "\uFFFD"), nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// HTTPClient returns the underlying HTTP client (for testing).
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// classifyStatus categorizes an HTTP error status for observability.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classOf returns the ErrorClass carried by err.
func classOf(err error) ErrorClass {
	var netErr *networkError
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.ErrorClass
	}
	return ""
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
