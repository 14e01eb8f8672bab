// Package fetch is the HTTP layer shared by every exchange adapter. It owns
// the transport, per-client rate limiting, retry with exponential backoff and
// JSON decoding, and reports failures as typed errors the adapters can
// classify.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const (
	requestTimeout = 30 * time.Second

	defaultRequestsPerSecond = 10
	defaultBurst             = 1

	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
	retryMultiplier   = 2.0
	retryJitter       = 0.5
	maxRetries        = 3

	userAgent = "candle-collector/1.0"
)

// ErrEmptyBody is returned when a venue answers 2xx with no payload.
var ErrEmptyBody = errors.New("fetch: empty response body")

// StatusError is a non-2xx response. The body is kept so callers can match
// venue-specific error substrings.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned status %d: %s", e.URL, e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying within one call.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// DecodeError is a 2xx response whose body is not the expected JSON.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("fetch: decoding %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Client wraps an http.Client with rate limiting and retry. One Client is
// shared by all requests to a single venue.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit overrides the default requests-per-second budget.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		c.rateLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger attaches a logger used for retry and throttle events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient swaps the underlying http.Client, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a Client with the shared transport defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultBurst),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON performs a GET against url and decodes the body into out. Network
// failures, 5xx and 429 responses are retried with exponential backoff; other
// 4xx responses, empty bodies and decode failures are returned immediately as
// *StatusError, ErrEmptyBody or *DecodeError.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return ErrEmptyBody
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{URL: url, Err: err}
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay
	bo.Multiplier = retryMultiplier
	bo.RandomizationFactor = retryJitter
	bo.MaxElapsedTime = 0

	var body []byte
	attempt := 0

	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch: building request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt > maxRetries {
				return backoff.Permanent(fmt.Errorf("fetch: %s: %w", url, err))
			}
			return fmt.Errorf("fetch: %s: %w", url, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			if attempt > maxRetries {
				return backoff.Permanent(fmt.Errorf("fetch: reading %s: %w", url, err))
			}
			return fmt.Errorf("fetch: reading %s: %w", url, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{URL: url, Code: resp.StatusCode, Body: truncate(string(data), 512)}
			if !serr.Retryable() || attempt > maxRetries {
				return backoff.Permanent(serr)
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				if wait := parseRetryAfter(resp.Header.Get("Retry-After")); wait > 0 {
					c.logger.Warn("rate limited by venue", "url", url, "retry_after", wait)
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						return backoff.Permanent(ctx.Err())
					}
				}
			}
			return serr
		}

		body = data
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
