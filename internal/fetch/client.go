// Package fetch performs byte retrieval over the network with header
// injection, bounded retries, and cancellation awareness.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrBadStatus is returned when a fetch gets a non-2xx response.
var ErrBadStatus = errors.New("unexpected HTTP status")

// ClientConfig configures a Client
type ClientConfig struct {
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	UserAgent    string
	Headers      map[string]string
}

// Client wraps an http.Client with header injection and retry policy.
type Client struct {
	client *http.Client
	config ClientConfig
	logger *zap.Logger
}

// NewClient creates a new fetch client
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 1 * time.Second
	}
	return &Client{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: logger,
	}
}

// Do executes the request with headers and User-Agent injected.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

// Get issues a GET and returns the open response for streaming. The caller
// owns the response body. Extra headers override configured ones.
func (c *Client) Get(ctx context.Context, url string, extra map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	return resp, nil
}

// Fetch retrieves the full body at url.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.Get(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

// FetchWithRetry retrieves the full body at url, retrying transient
// failures with exponential backoff. Context cancellation aborts
// immediately and is returned unwrapped.
func (c *Client) FetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	backoff := c.config.RetryBackoff
	var lastErr error

	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("Retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		data, err := c.Fetch(ctx, url)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, fmt.Errorf("fetch failed after %d attempts: %w", c.config.MaxAttempts, lastErr)
}
