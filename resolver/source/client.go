package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"tuneresolve/resolver"
)

// ClientOptions configure a provider HTTP client.
type ClientOptions struct {
	Name         string
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Budget bounds the wall clock spent across all attempts of one call.
	// Exceeding it fails the call as unreachable.
	Budget    time.Duration
	RateLimit float64
	RateBurst int
	ProxyURL  string
}

func (o *ClientOptions) fillDefaults() {
	if o.Name == "" {
		o.Name = "provider"
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryWaitMin <= 0 {
		o.RetryWaitMin = 200 * time.Millisecond
	}
	if o.RetryWaitMax <= 0 {
		o.RetryWaitMax = 2 * time.Second
	}
	if o.Budget <= 0 {
		o.Budget = 30 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 5
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 10
	}
}

// HTTPClient is the resilient request layer shared by provider adapters:
// rate limited, circuit broken, and retried according to failure class.
type HTTPClient struct {
	name         string
	retry        *retryablehttp.Client
	breaker      *gobreaker.CircuitBreaker
	limiter      *rate.Limiter
	maxRetries   int
	minBackoff   time.Duration
	maxBackoff   time.Duration
	budget       time.Duration
	logger       resolver.Logger
	sleep        func(ctx context.Context, d time.Duration) error
	nowFunc      func() time.Time
}

// NewHTTPClient creates a provider client with retry and circuit breaker.
func NewHTTPClient(opts ClientOptions, logger resolver.Logger) *HTTPClient {
	opts.fillDefaults()

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = nil
	// Attempts are driven by the failure-class policy in withRetry, so the
	// transport must hand back every response as-is.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		return false, err
	}

	if opts.ProxyURL != "" {
		if proxy, err := url.Parse(opts.ProxyURL); err == nil {
			client.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
		} else if logger != nil {
			logger.Warn("invalid proxy url, continuing without proxy", "client", opts.Name, "error", err)
		}
	}

	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &HTTPClient{
		name:       opts.Name,
		retry:      client,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		maxRetries: opts.MaxRetries,
		minBackoff: opts.RetryWaitMin,
		maxBackoff: opts.RetryWaitMax,
		budget:     opts.Budget,
		logger:     logger,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		nowFunc: time.Now,
	}
}

// Execute runs fn through the circuit breaker and the retry policy.
func (c *HTTPClient) Execute(ctx context.Context, fn func() error) error {
	if fn == nil {
		return nil
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.withRetry(ctx, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: circuit open: %w", c.name, ErrUnreachable)
	}
	return err
}

// withRetry drives attempts by failure class: rate limiting backs off
// exponentially, transient transport and decode faults get one fixed retry,
// permanent failures return immediately. The budget caps total wall clock.
func (c *HTTPClient) withRetry(ctx context.Context, fn func() error) error {
	deadline := c.nowFunc().Add(c.budget)

	var lastErr error
	fixedRetryUsed := false
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAuthRejected) {
			return err
		}

		var wait time.Duration
		switch {
		case errors.Is(err, ErrRateLimited):
			wait = c.retry.Backoff(c.minBackoff, c.maxBackoff, attempt, nil)
		case errors.Is(err, ErrUnreachable), errors.Is(err, ErrMalformed):
			if fixedRetryUsed {
				return err
			}
			fixedRetryUsed = true
			wait = c.minBackoff
		default:
			return err
		}

		if attempt == c.maxRetries {
			break
		}
		if c.nowFunc().Add(wait).After(deadline) {
			return fmt.Errorf("%s: attempt budget exceeded: %v: %w", c.name, err, ErrUnreachable)
		}
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%s: retry failed", c.name)
	}
	return lastErr
}

// GetJSON fetches rawURL and decodes the response body into out.
// HTTP status classes map onto the failure sentinels.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, header http.Header, out any) error {
	return c.Execute(ctx, func() error {
		body, err := c.get(ctx, rawURL, header)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: decode response: %v: %w", c.name, err, ErrMalformed)
		}
		return nil
	})
}

func (c *HTTPClient) get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %v: %w", c.name, err, ErrMalformed)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.retry.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %v: %w", c.name, err, ErrUnreachable)
	}
	defer resp.Body.Close()

	if statusErr := ErrorFromStatus(resp.StatusCode); statusErr != nil {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%s: status %d: %w", c.name, resp.StatusCode, statusErr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %v: %w", c.name, err, ErrUnreachable)
	}
	return body, nil
}

// GetBytes fetches rawURL and returns the raw body, for file downloads.
func (c *HTTPClient) GetBytes(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := c.Execute(ctx, func() error {
		b, err := c.get(ctx, rawURL, nil)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Head probes rawURL and returns its status code without reading the body.
// Transport failures map to ErrUnreachable.
func (c *HTTPClient) Head(ctx context.Context, rawURL string) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %v: %w", c.name, err, ErrMalformed)
	}

	resp, err := c.retry.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: head failed: %v: %w", c.name, err, ErrUnreachable)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

// SetSleep overrides the backoff sleeper, for tests.
func (c *HTTPClient) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	if sleep != nil {
		c.sleep = sleep
	}
}

// SetNow overrides the budget clock, for tests.
func (c *HTTPClient) SetNow(now func() time.Time) {
	if now != nil {
		c.nowFunc = now
	}
}
