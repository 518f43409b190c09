package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the public Gamma listing API.
const DefaultBaseURL = "https://gamma-api.polymarket.com"

// Client provides access to the Gamma listing API: tag lookup and open
// market search. It is the concrete implementation of the discovery
// collaborator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new listing client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// LookupTag resolves a venue tag by its slug.
func (c *Client) LookupTag(ctx context.Context, slug string) (Tag, error) {
	body, err := c.doWithRetry(ctx, "/tags/slug/"+url.PathEscape(slug), nil)
	if err != nil {
		return Tag{}, fmt.Errorf("lookup tag %q: %w", slug, err)
	}

	var tag Tag
	if err := json.Unmarshal(body, &tag); err != nil {
		return Tag{}, fmt.Errorf("decode tag %q: %w", slug, err)
	}
	return tag, nil
}

// SearchOpenMarkets returns open (not closed) markets under a tag whose
// question or description contains every keyword. The keyword match is
// client-side; Gamma's own search is fuzzy and over-matches.
func (c *Client) SearchOpenMarkets(ctx context.Context, tagID string, keywords []string, limit int) ([]Market, error) {
	if limit <= 0 {
		return nil, nil
	}

	const pageSize = 200
	matched := make([]Market, 0, 32)

	for offset := 0; offset < limit; offset += pageSize {
		query := url.Values{}
		query.Set("closed", "false")
		query.Set("tag_id", tagID)
		query.Set("limit", strconv.Itoa(min(pageSize, limit-offset)))
		query.Set("offset", strconv.Itoa(offset))
		query.Set("order", "id")
		query.Set("ascending", "false")

		body, err := c.doWithRetry(ctx, "/markets", query)
		if err != nil {
			return nil, fmt.Errorf("search markets tag=%s: %w", tagID, err)
		}

		var page []Market
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode markets tag=%s: %w", tagID, err)
		}

		for _, m := range page {
			if m.MatchesKeywords(keywords) {
				matched = append(matched, m)
			}
		}

		if len(page) < pageSize {
			break
		}
	}

	return matched, nil
}

// APIError represents an error response from Gamma.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gamma api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// doRequest performs a single GET against the API.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// doWithRetry performs a request with exponential backoff retry on
// retryable failures.
func (c *Client) doWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Jitter: backoff * (0.5 to 1.5).
			jitter := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			c.logger.Debug("retrying gamma request",
				"path", path,
				"attempt", attempt,
				"backoff", jitter,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}
			backoff *= 2
		}

		body, err := c.doRequest(ctx, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if apiErr, ok := err.(*APIError); ok && !apiErr.IsRetryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
}
