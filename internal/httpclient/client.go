package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultUserAgent = "secnews/1.0 (+feed aggregator)"
	// maxBodyBytes caps how much of a single response is read into memory.
	maxBodyBytes = 10 << 20
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Client provides a configurable HTTP client with common functionality
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
}

// New creates a new HTTP client with the specified timeout
func New(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		userAgent:  userAgent,
	}
}

// Get performs a GET request with proper context and headers
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return c.httpClient.Do(req)
}

// Fetch GETs url and returns the body. The whole exchange, including reading
// the body, is bounded by the client timeout.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.Get(ctx, url, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// GetTimeout returns the client timeout
func (c *Client) GetTimeout() time.Duration {
	return c.timeout
}
