package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single page request.
const DefaultTimeout = 30 * time.Second

// HTTPClient implements Source against the transactions REST endpoint.
// It does not retry; retries belong to the job queue.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a client for the API rooted at endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rateLimitBody is the JSON error body of a 429 response.
type rateLimitBody struct {
	Error            string `json:"error"`
	Message          string `json:"message"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

// Fetch performs GET {endpoint}/transactions for one page.
func (c *HTTPClient) Fetch(ctx context.Context, req Request) (*Page, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	q := url.Values{}
	q.Set("startDate", req.Start.UTC().Format(time.RFC3339Nano))
	q.Set("endDate", req.End.UTC().Format(time.RFC3339Nano))
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("limit", strconv.Itoa(pageSize))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/transactions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"), body)}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, truncate(body))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("transaction source: HTTP %d: %s", resp.StatusCode, truncate(body))
	}

	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode page %d: %w", req.Page, err)
	}
	return &page, nil
}

// retryAfter reads the Retry-After header (seconds) or the body's remainingSeconds.
func retryAfter(header string, body []byte) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	var rl rateLimitBody
	if err := json.Unmarshal(body, &rl); err == nil && rl.RemainingSeconds > 0 {
		return time.Duration(rl.RemainingSeconds) * time.Second
	}
	return 0
}

func truncate(body []byte) string {
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}

var _ Source = (*HTTPClient)(nil)
