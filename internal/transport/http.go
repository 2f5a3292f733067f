// Package transport is the HTTP layer shared by the chain adapters.
// It classifies failures into domain.ErrNetwork (no usable response) and
// domain.ErrChain (the node answered but rejected the request).
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/observability"
)

// Default configuration values. Retries are off unless configured; the
// refresh core never retries on its own.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 0
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0

	maxBodyBytes = 4 << 20
)

// Client performs HTTP requests with optional retries and exponential backoff.
type Client struct {
	name        string // metrics label: "cosmos", "evm"
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for network failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// New creates a new Client. name labels latency metrics.
func New(name string, opts ...Option) *Client {
	c := &Client{
		name:        name,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends the request built by newReq and returns the response body of a 2xx answer.
// newReq is called once per attempt. method labels latency metrics.
func (c *Client) Do(ctx context.Context, method string, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	start := time.Now()
	defer func() {
		observability.RecordRPCLatency(c.name, method, time.Since(start).Seconds())
	}()

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v (last error: %v)", domain.ErrNetwork, ctx.Err(), lastErr)
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create request: %v", domain.ErrChain, err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: http request: %v", domain.ErrNetwork, err)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%w: rate limited (429)", domain.ErrNetwork)
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: unexpected status %d: %s", domain.ErrNetwork, resp.StatusCode, truncate(body))
			continue
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			// The node understood and rejected the request; retrying will not help.
			return nil, fmt.Errorf("%w: status %d: %s", domain.ErrChain, resp.StatusCode, truncate(body))
		}

		return body, nil
	}

	if c.maxRetries > 0 {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return nil, lastErr
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
