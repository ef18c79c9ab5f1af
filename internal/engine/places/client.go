package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://maps.googleapis.com/maps/api/place"

	// ResultCap is the most results nearby search returns for one query:
	// three pages of twenty.
	ResultCap = 60
	pageSize  = 20
	maxPages  = ResultCap / pageSize

	defaultMaxRetries     = 3
	defaultPageTokenDelay = 2 * time.Second
	baseBackoff           = 2 * time.Second
	maxBackoff            = 30 * time.Second
	jitterFactor          = 0.5

	maxBodyBytes = 8 << 20
)

// RateLimitError indicates the provider is throttling us, either through
// the HTTP status or an OVER_QUERY_LIMIT body status.
type RateLimitError struct {
	StatusCode int
	Status     string
}

func (e *RateLimitError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("rate limited (%s)", e.Status)
	}
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// StatusError is a non-success status in an otherwise valid response.
type StatusError struct {
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("places status %s: %s", e.Status, e.Message)
	}
	return "places status " + e.Status
}

// errTokenNotReady is returned when a next_page_token is used before the
// provider has activated it.
var errTokenNotReady = errors.New("page token not ready")

// Options configures a Client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	// QPS caps requests per second across every goroutine sharing the
	// client. Zero disables the limiter.
	QPS float64
	// MaxRetries bounds retries of throttled calls. Zero uses the default,
	// a negative value disables retries.
	MaxRetries     int
	PageTokenDelay time.Duration
	BaseBackoff    time.Duration
	Logger         *slog.Logger
	// OnRateLimit is invoked for every throttled attempt.
	OnRateLimit func()
}

// Client talks to the Google Places web service. It is safe for concurrent
// use.
type Client struct {
	http           *http.Client
	apiKey         string
	baseURL        string
	limiter        *rate.Limiter
	maxRetries     int
	pageTokenDelay time.Duration
	baseBackoff    time.Duration
	logger         *slog.Logger
	onRateLimit    func()
}

func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("places: API key is required")
	}
	c := &Client{
		http:           opts.HTTPClient,
		apiKey:         opts.APIKey,
		baseURL:        opts.BaseURL,
		maxRetries:     opts.MaxRetries,
		pageTokenDelay: opts.PageTokenDelay,
		baseBackoff:    opts.BaseBackoff,
		logger:         opts.Logger,
		onRateLimit:    opts.OnRateLimit,
	}
	if c.http == nil {
		c.http = NewHTTPClient(TransportOptions{})
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	} else if opts.MaxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.pageTokenDelay <= 0 {
		c.pageTokenDelay = defaultPageTokenDelay
	}
	if c.baseBackoff <= 0 {
		c.baseBackoff = baseBackoff
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.QPS > 0 {
		burst := int(opts.QPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.QPS), burst)
	}
	return c, nil
}

// ResultCap is the provider's per-query result cap.
func (c *Client) ResultCap() int {
	return ResultCap
}

// call performs GET baseURL/path with retry and exponential backoff on rate
// limiting. decode turns the body into a value or a typed error. It returns
// the number of HTTP requests made.
func (c *Client) call(ctx context.Context, path string, params url.Values, retryable func(error) bool, decode func([]byte) error) (int, error) {
	params.Set("key", c.apiKey)
	reqURL := c.baseURL + path + "?" + params.Encode()

	requests := 0
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<uint(attempt-1))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			jitter := time.Duration(float64(backoff) * jitterFactor * rand.Float64())
			if err := sleepCtx(ctx, backoff+jitter); err != nil {
				return requests, err
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return requests, err
			}
		}

		requests++
		body, err := c.doRequest(ctx, reqURL)
		if err == nil {
			err = decode(body)
		}
		if err == nil {
			return requests, nil
		}
		lastErr = err

		var rl *RateLimitError
		if errors.As(err, &rl) {
			if c.onRateLimit != nil {
				c.onRateLimit()
			}
			c.logger.Warn("places rate limited", "path", path, "attempt", attempt+1, "err", err)
			continue
		}
		if retryable != nil && retryable(err) {
			continue
		}
		return requests, err
	}
	return requests, lastErr
}

func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error embeds the request URL, which carries the key
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, fmt.Errorf("executing request: %w", uerr.Err)
		}
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, &RateLimitError{StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// checkStatus maps a Places body status to an error.
func checkStatus(status, message string) error {
	switch status {
	case "OK", "ZERO_RESULTS":
		return nil
	case "OVER_QUERY_LIMIT":
		return &RateLimitError{StatusCode: http.StatusOK, Status: status}
	}
	return &StatusError{Status: status, Message: message}
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
