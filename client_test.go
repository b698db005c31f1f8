package ledgerline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient spins up a server answering both the token endpoint and the
// API, and returns a client pointed at it with millisecond backoff.
func newTestClient(t *testing.T, apiHandler http.HandlerFunc, options ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"test-token","token_type":"bearer","expires_in":3600}`)
			return
		}
		apiHandler(w, r)
	}))
	t.Cleanup(srv.Close)

	base := []Option{
		WithAuthURL(srv.URL),
		WithBaseURL(srv.URL),
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(5 * time.Millisecond),
		WithJitter(0),
	}
	client, err := New("client-id", "secret-secret-secret", append(base, options...)...)
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	return client, srv
}

func TestNewValidatesConfiguration(t *testing.T) {
	_, err := New("", "")

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	problems, ok := apiErr.Context["problems"].([]string)
	if !ok || len(problems) < 2 {
		t.Errorf("expected problems for both credentials, got %v", apiErr.Context)
	}
}

func TestNewRejectsBadTuning(t *testing.T) {
	tests := []struct {
		name   string
		option Option
	}{
		{"bad auth url", WithAuthURL("not a url")},
		{"bad base url", WithBaseURL("://broken")},
		{"zero timeout", WithTimeout(0)},
		{"negative retries", WithMaxRetries(-1)},
		{"nil predicate", WithShouldRetry(nil)},
		{"nil middleware", WithMiddleware(nil)},
		{"nil request id generator", WithRequestIDGenerator(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("client-id", "secret-secret-secret", tt.option)
			if !IsValidationError(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDoInjectsBearerAndRequestID(t *testing.T) {
	var auth, requestID string
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		requestID = r.Header.Get("X-Request-Id")
		w.WriteHeader(http.StatusOK)
	}, WithRequestIDGenerator(func() string { return "fixed-id" }))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if auth != "Bearer test-token" {
		t.Errorf("expected bearer header, got %q", auth)
	}
	if requestID != "fixed-id" {
		t.Errorf("expected generated request id, got %q", requestID)
	}
}

func TestDoTagsMutatingRequests(t *testing.T) {
	var getKey, postKey string
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			getKey = r.Header.Get(idempotencyHeader)
		case http.MethodPost:
			postKey = r.Header.Get(idempotencyHeader)
		}
		w.WriteHeader(http.StatusOK)
	})

	get, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	if resp, err := client.Do(get); err == nil {
		resp.Body.Close()
	}
	post, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/transfers", nil)
	if resp, err := client.Do(post); err == nil {
		resp.Body.Close()
	}

	if getKey != "" {
		t.Errorf("GET must not carry an idempotency key, got %q", getKey)
	}
	if postKey == "" {
		t.Error("POST must carry an auto-generated idempotency key")
	}
	if postKey != "" && !ValidateKey(postKey) {
		t.Errorf("auto-generated key %q fails validation", postKey)
	}
}

func TestDoIdempotencyKeyStableAcrossRetries(t *testing.T) {
	var keys []string
	var calls int64
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get(idempotencyHeader))
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}, WithMaxRetries(5))

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/transfers", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(keys) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(keys))
	}
	for i, k := range keys {
		if k != keys[0] {
			t.Errorf("attempt %d reused a different key: %q vs %q", i+1, k, keys[0])
		}
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls int64
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if atomic.LoadInt64(&calls) != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls int64
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}, WithMaxRetries(5))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts/missing", nil)
	_, err := client.Do(req)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsClientError() {
		t.Fatalf("expected client error, got %v", err)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("4xx responses must not be retried, got %d attempts", calls)
	}
}

func TestDoSurfacesRateLimitError(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}, WithMaxRetries(1))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	_, err := client.Do(req)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != CodeRateLimit {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if apiErr.RetryAfter != 7*time.Second {
		t.Errorf("expected Retry-After carried through, got %v", apiErr.RetryAfter)
	}
}

func TestDoCircuitBreakerOpensAndFastFails(t *testing.T) {
	var calls int64
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	},
		WithMaxRetries(1),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}),
	)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	if _, err := client.Do(req); err == nil {
		t.Fatal("expected first request to fail")
	}

	req2, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	_, err := client.Do(req2)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("open breaker must not reach the server, got %d calls", calls)
	}
}

func TestDoLocalRateLimiter(t *testing.T) {
	var calls int64
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusOK)
	},
		WithMaxRetries(1),
		WithRateLimiter(1, time.Hour),
	)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	req2, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	_, err = client.Do(req2)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("rate-limited request must not reach the server, got %d calls", calls)
	}
}

func TestDoAuthFailureAbortsWithoutSending(t *testing.T) {
	var apiCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt64(&apiCalls, 1)
	}))
	defer srv.Close()

	client, err := New("client-id", "wrong-secret-wrongwrong",
		WithAuthURL(srv.URL), WithBaseURL(srv.URL), WithMaxRetries(1))
	if err != nil {
		t.Fatalf("building client: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	_, err = client.Do(req)

	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if atomic.LoadInt64(&apiCalls) != 0 {
		t.Errorf("request must not be sent without a token, got %d API calls", apiCalls)
	}
	if client.circuitBreaker.Failures() != 0 {
		t.Error("auth endpoint trouble must not count against the API breaker")
	}
}

func TestDoReplaysBodyAcrossRetries(t *testing.T) {
	var bodies []string
	var calls int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		bodies = append(bodies, payload["amount"])
		if atomic.AddInt64(&calls, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := client.doJSON(context.Background(), http.MethodPost, "/v1/transfers", map[string]string{"amount": "5.00"}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(bodies))
	}
	for i, b := range bodies {
		if b != "5.00" {
			t.Errorf("attempt %d: body not replayed, got %q", i+1, b)
		}
	}
}

func TestDoJSONValidatesIdempotencyKey(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent with an invalid key")
	})

	err := client.doJSON(context.Background(), http.MethodPost, "/v1/transfers", nil, nil, "bad")
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMiddlewareRunsInOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(req *http.Request, next RoundTripper) (*http.Response, error) {
			order = append(order, name)
			return next.RoundTrip(req)
		}
	}

	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusOK)
	}, WithMiddleware(mk("outer"), mk("inner")))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	want := []string{"outer", "inner", "handler"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestRotateCredentials(t *testing.T) {
	var rotateBody map[string]string
	var lastSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			_, lastSecret, _ = r.BasicAuth()
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"test-token","token_type":"bearer","expires_in":3600}`)
		case "/v1/credentials/rotate":
			json.NewDecoder(r.Body).Decode(&rotateBody)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client, err := New("client-id", "old-secret-old-secret",
		WithAuthURL(srv.URL), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("building client: %v", err)
	}

	if err := client.RotateCredentials(context.Background(), "new-secret-new-secret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rotateBody["client_secret"] != "new-secret-new-secret" {
		t.Errorf("expected new secret posted, got %v", rotateBody)
	}
	if client.Tokens().IsAuthenticated() {
		t.Error("rotation must clear the stored token")
	}

	// The next API call authenticates under the new secret.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/accounts", nil)
	if resp, err := client.Do(req); err == nil {
		resp.Body.Close()
	}
	if lastSecret != "new-secret-new-secret" {
		t.Errorf("expected token refresh under the new secret, got %q", lastSecret)
	}
}

func TestRotateCredentialsRejectsEmptySecret(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be sent for an empty secret")
	})

	if err := client.RotateCredentials(context.Background(), "  "); !IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCloseRevokesToken(t *testing.T) {
	var revoked int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"test-token","token_type":"bearer","expires_in":3600}`)
		case revokePath:
			atomic.AddInt64(&revoked, 1)
		}
	}))
	defer srv.Close()

	client, err := New("client-id", "secret-secret-secret",
		WithAuthURL(srv.URL), WithBaseURL(srv.URL),
		WithIdempotencyManager(NewIdempotencyManager()))
	if err != nil {
		t.Fatalf("building client: %v", err)
	}

	if _, err := client.Tokens().AccessToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if atomic.LoadInt64(&revoked) != 1 {
		t.Errorf("expected token revoked on close, got %d revoke calls", revoked)
	}
}

func TestEndpointFromRequest(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://api.ledgerline.io/v1/accounts", nil)
	if got := endpointFromRequest(req); got != "api.ledgerline.io/v1/accounts" {
		t.Errorf("unexpected endpoint label %q", got)
	}

	root, _ := http.NewRequest(http.MethodGet, "https://api.ledgerline.io", nil)
	if got := endpointFromRequest(root); got != "api.ledgerline.io/" {
		t.Errorf("unexpected root endpoint label %q", got)
	}
}

func TestListQuery(t *testing.T) {
	tests := []struct {
		name string
		opts *ListOptions
		want string
	}{
		{"nil", nil, ""},
		{"empty", &ListOptions{}, ""},
		{"limit only", &ListOptions{Limit: 25}, "?limit=25"},
		{"cursor only", &ListOptions{Cursor: "abc"}, "?cursor=abc"},
		{"both", &ListOptions{Limit: 10, Cursor: "abc"}, "?cursor=abc&limit=10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := listQuery(tt.opts); got != tt.want {
				t.Errorf("listQuery(%+v) = %q, expected %q", tt.opts, got, tt.want)
			}
		})
	}
}

func TestMutatingMethod(t *testing.T) {
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		if !mutatingMethod(m) {
			t.Errorf("%s must be mutating", m)
		}
	}
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		if mutatingMethod(m) {
			t.Errorf("%s must not be mutating", m)
		}
	}
}
