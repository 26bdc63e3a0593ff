package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements Feed against a JSON price oracle endpoint.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a price feed client for an oracle endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
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

// priceResponse is the oracle's wire format for one quote.
type priceResponse struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// Price fetches the current price of an asset, retrying transient failures
// with exponential backoff.
func (c *HTTPClient) Price(ctx context.Context, asset string) (decimal.Decimal, error) {
	start := time.Now()
	quote, err := c.fetch(ctx, asset)
	observability.RecordPriceFeedRequest(time.Since(start).Seconds(), err)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.Price, nil
}

// Quote fetches the full quote for an asset.
func (c *HTTPClient) Quote(ctx context.Context, asset string) (*Quote, error) {
	start := time.Now()
	quote, err := c.fetch(ctx, asset)
	observability.RecordPriceFeedRequest(time.Since(start).Seconds(), err)
	return quote, err
}

func (c *HTTPClient) fetch(ctx context.Context, asset string) (*Quote, error) {
	if asset == "" {
		return nil, fmt.Errorf("asset is required")
	}

	reqURL := fmt.Sprintf("%s/price?asset=%s", c.endpoint, url.QueryEscape(asset))

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			// Unknown assets are not retried
			return nil, fmt.Errorf("no price for asset %s", asset)
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var pr priceResponse
		if err := json.Unmarshal(respBody, &pr); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}
		if !pr.Price.IsPositive() {
			lastErr = fmt.Errorf("oracle returned non-positive price %s for %s", pr.Price, asset)
			continue
		}

		return &Quote{Asset: pr.Asset, Price: pr.Price, Timestamp: pr.Timestamp}, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

var _ Feed = (*HTTPClient)(nil)
