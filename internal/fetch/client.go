package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/resilience"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnsupportedScheme is returned for URLs the client cannot transport.
var ErrUnsupportedScheme = errors.New("fetch: unsupported scheme")

// Config tunes the client.
type Config struct {
	Timeout   time.Duration
	Retries   int
	UserAgent string
	// RateLimit is requests per second; zero or less means unlimited.
	RateLimit float64
}

// DefaultConfig returns the production client settings.
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		Retries:   3,
		UserAgent: "ScriptMonkey/1.0",
	}
}

// Client wraps resty with rate limiting and a circuit breaker.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *zap.Logger
	mu      sync.RWMutex
}

// Request describes one outbound HTTP request.
type Request struct {
	Method  string
	URL     string
	Header  map[string]string
	Body    string
	NoCache bool
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	// FinalURL is the URL after redirects.
	FinalURL string
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	r := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(10 * time.Second).
		SetTransport(retryClient.HTTPClient.Transport)
	if cfg.UserAgent != "" {
		r.SetHeader("User-Agent", cfg.UserAgent)
	}

	breaker := resilience.New("fetch", resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
		// Only transport failures count; an HTTP 404 is still a healthy server.
		IsFailure: func(err error) bool {
			var se *StatusError
			return err != nil && !errors.As(err, &se) && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})

	c := &Client{resty: r, breaker: breaker, logger: logger}
	c.SetRateLimit(cfg.RateLimit)
	return c
}

// SetRateLimit configures requests per second. rps <= 0 disables limiting.
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Get fetches url and fails with *StatusError on a non-2xx status.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	resp, err := c.Do(ctx, &Request{Method: http.MethodGet, URL: url})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

// Do performs req and returns the response whatever its status.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, req.URL)
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	return resilience.Call(c.breaker, func() (*Response, error) {
		c.mu.RLock()
		r := c.resty.R().SetContext(ctx)
		c.mu.RUnlock()

		r.SetHeaders(req.Header)
		if req.NoCache {
			r.SetHeader("Cache-Control", "no-cache").SetHeader("Pragma", "no-cache")
		}
		if req.Body != "" {
			r.SetBody(req.Body)
		}

		start := time.Now()
		resp, err := r.Execute(method, req.URL)
		if err != nil {
			c.logger.Debug("fetch failed", zap.String("method", method), zap.String("url", req.URL), zap.Error(err))
			return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
		c.logger.Debug("fetched",
			zap.String("method", method),
			zap.String("url", req.URL),
			zap.Int("status", resp.StatusCode()),
			zap.Duration("elapsed", time.Since(start)))

		final := req.URL
		if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
			final = raw.Request.URL.String()
		}
		return &Response{
			StatusCode: resp.StatusCode(),
			Status:     statusText(resp),
			Header:     resp.Header(),
			Body:       resp.Body(),
			FinalURL:   final,
		}, nil
	})
}

func (c *Client) wait(ctx context.Context) error {
	if c.breaker.State() == resilience.StateOpen {
		return resilience.ErrCircuitOpen
	}
	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// statusText strips the numeric code from "404 Not Found".
func statusText(resp *resty.Response) string {
	s := resp.Status()
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[i+1:]
	}
	if s == "" {
		return http.StatusText(resp.StatusCode())
	}
	return s
}
