package ledgerline

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithAuthURL overrides the OAuth2 authorization server base URL.
func WithAuthURL(u string) Option {
	return func(c *Client) {
		c.authURL = strings.TrimRight(u, "/")
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxRetries sets the total number of attempts a request may take.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithInitialDelay sets the backoff starting delay.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Client) {
		c.initialDelay = d
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithBackoffMultiplier sets the backoff growth factor.
func WithBackoffMultiplier(f float64) Option {
	return func(c *Client) {
		c.multiplier = f
	}
}

// WithJitter sets the jitter fraction added to each delay, clamped to [0,1].
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.jitter = f
	}
}

// WithShouldRetry replaces the default retry predicate.
func WithShouldRetry(fn ShouldRetryFunc) Option {
	return func(c *Client) {
		c.shouldRetry = fn
	}
}

// WithHTTPClient supplies a custom HTTP client, e.g. with a tuned transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithCircuitBreaker configures the circuit breaker.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.circuitBreaker = NewCircuitBreaker(config)
	}
}

// WithRateLimiter enables the local token-bucket rate limiter.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithIdempotencyManager enables local result caching and in-flight
// coalescing for the mutating service calls.
func WithIdempotencyManager(mgr *IdempotencyManager) Option {
	return func(c *Client) {
		c.idempotency = mgr
	}
}

// WithMiddleware appends middleware to the outbound chain.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector attaches a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger attaches a logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRequestIDGenerator replaces the uuid-based request id generator.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.requestIDGen = gen
	}
}

// validateConfiguration checks the assembled configuration and reports all
// problems at once as a validation error, before any network activity.
func (c *Client) validateConfiguration() error {
	var problems []string

	if strings.TrimSpace(c.clientID) == "" {
		problems = append(problems, "clientID is required")
	}
	if strings.TrimSpace(c.clientSecret) == "" {
		problems = append(problems, "clientSecret is required")
	}
	if u, err := url.Parse(c.authURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("authURL %q is not a valid URL", c.authURL))
	}
	if u, err := url.Parse(c.baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("baseURL %q is not a valid URL", c.baseURL))
	}
	if c.timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.maxRetries <= 0 {
		problems = append(problems, "maxRetries must be positive")
	}
	if c.initialDelay <= 0 {
		problems = append(problems, "initialDelay must be positive")
	}
	if c.maxDelay < c.initialDelay {
		problems = append(problems, "maxDelay must be greater than or equal to initialDelay")
	}
	if c.multiplier <= 0 {
		problems = append(problems, "backoff multiplier must be positive")
	}
	if c.jitter < 0 || c.jitter > 1 {
		problems = append(problems, "jitter must be between 0 and 1")
	}
	if c.shouldRetry == nil {
		problems = append(problems, "shouldRetry predicate cannot be nil")
	}
	for i, middleware := range c.middleware {
		if middleware == nil {
			problems = append(problems, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}
	if c.requestIDGen == nil {
		problems = append(problems, "request id generator cannot be nil")
	}

	if len(problems) > 0 {
		return NewValidationError("configuration validation failed", map[string]any{
			"problems": problems,
		})
	}
	return nil
}
