package ledgerline

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Machine-readable error codes attached to APIError values.
const (
	CodeAuth       = "AUTH_ERROR"
	CodeRateLimit  = "RATE_LIMIT"
	CodeValidation = "VALIDATION_ERROR"
	CodeNetwork    = "NETWORK_ERROR"
	CodeAPI        = "API_ERROR"
)

// Sentinel errors for reliability-layer failures.
var (
	// ErrCircuitOpen is returned when the circuit breaker refuses a call.
	ErrCircuitOpen = errors.New("ledgerline: circuit open")

	// ErrRateLimited is returned when the local rate limiter denies a request.
	ErrRateLimited = errors.New("ledgerline: rate limited")
)

// APIError is the typed error surfaced for every failure the client produces.
// Status is zero for network-level failures that never received a response.
type APIError struct {
	Status     int
	Code       string
	Message    string
	Context    map[string]any
	RequestID  string
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches APIErrors by code so errors.Is works against constructor-made
// template values.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return false
	}
	if other, ok := target.(*APIError); ok {
		return e.Code == other.Code
	}
	return false
}

// IsClientError reports whether the error carries a 4xx status.
func (e *APIError) IsClientError() bool {
	return e != nil && e.Status >= 400 && e.Status <= 499
}

// IsServerError reports whether the error carries a 5xx status.
func (e *APIError) IsServerError() bool {
	return e != nil && e.Status >= 500 && e.Status <= 599
}

// IsRetryable reports whether another attempt may succeed: server errors,
// request timeouts (408) and rate limiting (429).
func (e *APIError) IsRetryable() bool {
	if e == nil {
		return false
	}
	return e.IsServerError() || e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests
}

// IsNetworkError reports whether the failure happened below the HTTP layer,
// before any response was received.
func (e *APIError) IsNetworkError() bool {
	return e != nil && e.Code == CodeNetwork
}

// NewAuthError builds the error kind raised when credentials are rejected.
func NewAuthError(message string, context map[string]any) *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Code:    CodeAuth,
		Message: message,
		Context: context,
	}
}

// NewRateLimitError builds a 429 error carrying the server-advertised wait.
func NewRateLimitError(message string, retryAfter time.Duration) *APIError {
	return &APIError{
		Status:     http.StatusTooManyRequests,
		Code:       CodeRateLimit,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// NewValidationError builds the error kind raised for local precondition
// failures, before any network activity.
func NewValidationError(message string, context map[string]any) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Message: message,
		Context: context,
	}
}

// NewNetworkError wraps a transport-level failure. The original error stays
// attached for diagnostics; no HTTP status is set.
func NewNetworkError(message string, cause error) *APIError {
	return &APIError{
		Code:    CodeNetwork,
		Message: message,
		Cause:   cause,
	}
}

// IsRetryable classifies an arbitrary error for the default retry predicate.
// Network failures and retryable API errors qualify; auth and validation
// errors never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsNetworkError() {
			return true
		}
		return apiErr.IsRetryable()
	}
	return false
}

// errorFromResponse translates a non-2xx HTTP response into an APIError.
// The body is parsed tolerantly: "message" or "error" for the human text,
// "code" for the machine code, "details" for structured context. A body that
// is not JSON falls back to a generic message.
func errorFromResponse(resp *http.Response) *APIError {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
	}

	message := gjson.GetBytes(body, "message").String()
	if message == "" {
		message = gjson.GetBytes(body, "error").String()
	}
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}

	code := gjson.GetBytes(body, "code").String()

	var context map[string]any
	if details := gjson.GetBytes(body, "details"); details.IsObject() {
		m := details.Map()
		context = make(map[string]any, len(m))
		for k, v := range m {
			context[k] = v.Value()
		}
	}

	requestID := resp.Header.Get("X-Request-Id")

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		err := NewAuthError(message, context)
		err.RequestID = requestID
		return err
	case http.StatusTooManyRequests:
		err := NewRateLimitError(message, parseRetryAfter(resp.Header.Get("Retry-After")))
		err.Context = context
		err.RequestID = requestID
		return err
	default:
		if code == "" {
			code = CodeAPI
		}
		return &APIError{
			Status:    resp.StatusCode,
			Code:      code,
			Message:   message,
			Context:   context,
			RequestID: requestID,
		}
	}
}

// parseRetryAfter parses a Retry-After header in either delay-seconds or
// HTTP-date form. Waits are capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
