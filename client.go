package ledgerline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Default endpoints and client tuning.
const (
	DefaultAuthURL = "https://auth.ledgerline.io"
	DefaultBaseURL = "https://api.ledgerline.io"
	DefaultTimeout = 30 * time.Second

	idempotencyHeader = "Idempotency-Key"
)

// Client is the authenticated Ledgerline API client. Every outbound request
// passes through token injection, mutating requests are tagged with an
// idempotency key, and failures are absorbed by the retry and circuit
// breaker layers before being surfaced as typed errors. A Client is safe for
// concurrent use.
type Client struct {
	clientID     string
	clientSecret string
	authURL      string
	baseURL      string
	timeout      time.Duration

	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       float64
	shouldRetry  ShouldRetryFunc

	httpClient     *http.Client
	tokens         *TokenManager
	circuitBreaker *CircuitBreaker
	rateLimiter    *RateLimiter
	idempotency    *IdempotencyManager
	middleware     []Middleware
	metrics        *MetricsCollector
	logger         Logger
	requestIDGen   func() string

	// Resource services. URL assembly and JSON mapping only; all
	// reliability behavior lives in the pipeline above.
	Accounts    *AccountsService
	Transfers   *TransfersService
	Addresses   *AddressesService
	Automations *AutomationsService
}

// New constructs a Client for the given credentials. Configuration is
// validated before any network activity; violations surface as a validation
// error.
func New(clientID, clientSecret string, options ...Option) (*Client, error) {
	c := &Client{
		clientID:       clientID,
		clientSecret:   clientSecret,
		authURL:        DefaultAuthURL,
		baseURL:        DefaultBaseURL,
		timeout:        DefaultTimeout,
		maxRetries:     DefaultMaxAttempts,
		initialDelay:   DefaultInitialDelay,
		maxDelay:       DefaultMaxDelay,
		multiplier:     DefaultMultiplier,
		jitter:         DefaultJitter,
		shouldRetry:    DefaultShouldRetry,
		circuitBreaker: NewCircuitBreaker(CircuitBreakerConfig{}),
		requestIDGen:   uuid.NewString,
	}

	for _, option := range options {
		option(c)
	}

	if err := c.validateConfiguration(); err != nil {
		return nil, err
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	} else if c.httpClient.Timeout == 0 {
		c.httpClient.Timeout = c.timeout
	}

	if c.tokens == nil {
		c.tokens = NewTokenManager(c.clientID, c.clientSecret, c.authURL, c.httpClient, c.logger, c.metrics)
	}

	c.Accounts = &AccountsService{client: c}
	c.Transfers = &TransfersService{client: c}
	c.Addresses = &AddressesService{client: c}
	c.Automations = &AutomationsService{client: c}

	return c, nil
}

// Tokens exposes the token lifecycle manager for introspection, revocation
// and rotation.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Idempotency returns the configured idempotency manager, or nil.
func (c *Client) Idempotency() *IdempotencyManager {
	return c.idempotency
}

// Do executes a prepared request through the full pipeline: idempotency key
// tagging, retry with backoff, rate limiting, circuit breaking, token
// injection and error classification. The idempotency key is fixed before the
// first attempt so every retry reuses it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	endpoint := endpointFromRequest(req)
	requestID := c.requestIDGen()

	if mutatingMethod(req.Method) && req.Header.Get(idempotencyHeader) == "" {
		req.Header.Set(idempotencyHeader, GenerateKey())
	}

	c.metrics.RecordRequestStart(req.Method, endpoint)
	defer c.metrics.RecordRequestEnd(req.Method, endpoint)

	opts := RetryOptions{
		MaxAttempts:  c.maxRetries,
		InitialDelay: c.initialDelay,
		MaxDelay:     c.maxDelay,
		Multiplier:   c.multiplier,
		Jitter:       c.jitter,
		ShouldRetry:  c.shouldRetry,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			c.metrics.RecordRetry(req.Method, endpoint, attempt)
			if c.logger != nil {
				c.logger.Info("scheduling retry", "requestID", requestID, "attempt", attempt, "delay", delay, "endpoint", endpoint, "error", err.Error())
			}
		},
	}

	resp, err := RetryResult(req.Context(), func(ctx context.Context) (*http.Response, error) {
		return c.attempt(ctx, req, requestID, endpoint)
	}, opts)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordRequest(req.Method, endpoint, statusCode, time.Since(start))

	return resp, err
}

// attempt performs one real request. Attempts are strictly sequential; the
// retry engine never runs two concurrently.
func (c *Client) attempt(ctx context.Context, req *http.Request, requestID, endpoint string) (*http.Response, error) {
	if c.rateLimiter != nil {
		if !c.rateLimiter.Allow() {
			c.metrics.RecordError("RateLimit", req.Method, endpoint)
			return nil, ErrRateLimited
		}
		c.metrics.RecordRateLimiterTokens("default", c.rateLimiter.Tokens())
	}

	if !c.circuitBreaker.Allow() {
		c.metrics.RecordError("CircuitBreaker", req.Method, endpoint)
		if c.logger != nil {
			c.logger.Warn("circuit breaker open", "requestID", requestID, "endpoint", endpoint)
		}
		return nil, ErrCircuitOpen
	}

	// A token failure aborts the attempt outright; the request must never
	// go out unauthenticated. Auth endpoint trouble is not evidence about
	// the resource API, so the breaker is not touched.
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		c.circuitBreaker.cancelProbe()
		c.metrics.RecordError("Auth", req.Method, endpoint)
		return nil, err
	}

	clone := req.Clone(ctx)
	clone.Header.Set("Authorization", "Bearer "+token)
	clone.Header.Set("X-Request-Id", requestID)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			c.circuitBreaker.cancelProbe()
			return nil, NewNetworkError("replaying request body failed", err)
		}
		clone.Body = body
	}

	resp, err := c.executeMiddleware(clone)
	if err != nil {
		c.circuitBreaker.RecordFailure()
		c.recordBreakerState()
		c.metrics.RecordError("Network", req.Method, endpoint)
		return nil, NewNetworkError("request failed", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := errorFromResponse(resp)
		if apiErr.RequestID == "" {
			apiErr.RequestID = requestID
		}
		if apiErr.IsServerError() {
			c.circuitBreaker.RecordFailure()
			c.metrics.RecordError("Server", req.Method, endpoint)
		} else {
			// 4xx means the dependency is healthy and told us no.
			c.circuitBreaker.RecordSuccess()
			c.metrics.RecordError("Client", req.Method, endpoint)
		}
		c.recordBreakerState()
		return nil, apiErr
	}

	c.circuitBreaker.RecordSuccess()
	c.recordBreakerState()
	return resp, nil
}

func (c *Client) recordBreakerState() {
	c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)
	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}
	return current.RoundTrip(req)
}

// RotateCredentials performs the credential rotation handshake and, on
// success, swaps the secret and clears the stored token so the next request
// authenticates under the new credential.
func (c *Client) RotateCredentials(ctx context.Context, newSecret string) error {
	if strings.TrimSpace(newSecret) == "" {
		return NewValidationError("new client secret is required", nil)
	}

	payload := map[string]string{"client_secret": newSecret}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/credentials/rotate", payload, nil, ""); err != nil {
		return err
	}

	c.tokens.rotateSecret(newSecret)
	if c.logger != nil {
		c.logger.Info("client secret rotated", "clientID", c.clientID)
	}
	return nil
}

// Close revokes the current token best-effort and releases the idempotency
// manager's resources.
func (c *Client) Close(ctx context.Context) error {
	c.tokens.Revoke(ctx)
	if c.idempotency != nil {
		return c.idempotency.Close()
	}
	return nil
}

// endpointFromRequest reduces a request to a host+path label for metrics.
func endpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	var b strings.Builder
	b.WriteString(req.URL.Host)
	if req.URL.Path != "" && req.URL.Path != "/" {
		b.WriteString(req.URL.Path)
	} else {
		b.WriteByte('/')
	}
	return b.String()
}

// IsAuthError reports whether err is the credentials-rejected kind.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeAuth
}

// IsValidationError reports whether err is a local precondition failure.
func IsValidationError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeValidation
}
