package ledgerline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ledgerline/ledgerline-go/internal/singleflight"
)

const (
	tokenPath  = "/oauth2/token"
	revokePath = "/oauth2/revoke"

	// refreshKey is the single-flight key guarding token refreshes. One
	// TokenManager owns one credential pair, so a single key suffices.
	refreshKey = "token-refresh"
)

// TokenManager owns the OAuth2 client-credentials token lifecycle for one
// credential pair: acquisition, expiry-aware reuse, single-flight refresh and
// revocation. It is safe for concurrent use; the stored token is replaced
// atomically and concurrent callers needing a refresh share one network call.
type TokenManager struct {
	clientID     string
	clientSecret string
	authURL      string
	httpClient   *http.Client
	logger       Logger
	metrics      *MetricsCollector

	mu     sync.RWMutex
	token  *Token
	flight *singleflight.Group
}

// NewTokenManager creates a token manager for the given client credentials.
// The logger and metrics collector may be nil.
func NewTokenManager(clientID, clientSecret, authURL string, httpClient *http.Client, logger Logger, metrics *MetricsCollector) *TokenManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	tm := &TokenManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		authURL:      strings.TrimRight(authURL, "/"),
		httpClient:   httpClient,
		logger:       logger,
		metrics:      metrics,
		flight:       singleflight.New(),
	}
	tm.warnSuspiciousCredentials()
	return tm
}

// warnSuspiciousCredentials logs advisory warnings for credentials that look
// like development placeholders. These are heuristics, not protocol rules,
// so they never fail construction.
func (tm *TokenManager) warnSuspiciousCredentials() {
	if tm.logger == nil {
		return
	}
	if len(tm.clientSecret) > 0 && len(tm.clientSecret) < 16 {
		tm.logger.Warn("client secret is unusually short", "clientID", tm.clientID)
	}
	if strings.Contains(strings.ToLower(tm.clientID), "test") {
		tm.logger.Warn("client id looks like a test credential", "clientID", tm.clientID)
	}
}

// AccessToken returns a token string valid for at least five more minutes.
// A valid stored token is returned without I/O. Otherwise concurrent callers
// share exactly one refresh round trip and all observe its result.
func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	tm.mu.RLock()
	token := tm.token
	tm.mu.RUnlock()
	if token.Valid() {
		return token.AccessToken, nil
	}

	val, err := tm.flight.Do(refreshKey, func() (interface{}, error) {
		// Re-check under the flight: a caller queued behind a completed
		// refresh should not trigger another round trip.
		tm.mu.RLock()
		current := tm.token
		tm.mu.RUnlock()
		if current.Valid() {
			return current, nil
		}
		return tm.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return val.(*Token).AccessToken, nil
}

// refresh exchanges the client credentials for a new token and stores it.
// On any failure the stored token is cleared: a stale token must never
// survive a failed refresh.
func (tm *TokenManager) refresh(ctx context.Context) (*Token, error) {
	clientID, clientSecret := tm.credentials()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.authURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		tm.setToken(nil)
		return nil, NewNetworkError("building token request failed", err)
	}
	req.SetBasicAuth(clientID, clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := tm.httpClient.Do(req)
	if err != nil {
		tm.setToken(nil)
		tm.metrics.RecordTokenRefresh(false, time.Since(start))
		return nil, NewNetworkError("token endpoint unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		tm.setToken(nil)
		tm.metrics.RecordTokenRefresh(false, time.Since(start))
		if tm.logger != nil {
			tm.logger.Warn("token refresh rejected", "clientID", tm.clientID, "status", resp.StatusCode)
		}
		// Context carries the client id for diagnostics, never the secret.
		return nil, NewAuthError("client credentials rejected by token endpoint", map[string]any{
			"client_id": tm.clientID,
			"status":    resp.StatusCode,
		})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		tm.setToken(nil)
		tm.metrics.RecordTokenRefresh(false, time.Since(start))
		return nil, NewNetworkError("reading token response failed", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		tm.setToken(nil)
		tm.metrics.RecordTokenRefresh(false, time.Since(start))
		return nil, NewAuthError("token endpoint returned a malformed response", map[string]any{
			"client_id": tm.clientID,
		})
	}
	if tr.AccessToken == "" {
		tm.setToken(nil)
		tm.metrics.RecordTokenRefresh(false, time.Since(start))
		return nil, NewAuthError("token endpoint response missing access_token", map[string]any{
			"client_id": tm.clientID,
		})
	}

	token := newToken(tr, time.Now())
	tm.setToken(token)
	tm.metrics.RecordTokenRefresh(true, time.Since(start))
	if tm.logger != nil {
		tm.logger.Debug("token refreshed", "clientID", tm.clientID, "expiresAt", token.ExpiresAt)
	}
	return token, nil
}

// credentials returns the current id/secret pair under the lock; the secret
// can change across a rotation.
func (tm *TokenManager) credentials() (string, string) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.clientID, tm.clientSecret
}

func (tm *TokenManager) setToken(token *Token) {
	tm.mu.Lock()
	tm.token = token
	tm.mu.Unlock()
}

// Revoke posts the current token to the revoke endpoint, best effort. A
// token that is already invalid revoking unsuccessfully is not an error, so
// failures are logged and swallowed. The stored token is always cleared.
func (tm *TokenManager) Revoke(ctx context.Context) {
	tm.mu.RLock()
	token := tm.token
	tm.mu.RUnlock()

	defer tm.ClearToken()

	if token == nil || token.AccessToken == "" {
		return
	}

	clientID, clientSecret := tm.credentials()

	form := url.Values{"token": {token.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.authURL+revokePath, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.SetBasicAuth(clientID, clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		if tm.logger != nil {
			tm.logger.Warn("token revoke failed", "clientID", tm.clientID, "error", err.Error())
		}
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 && tm.logger != nil {
		tm.logger.Warn("token revoke rejected", "clientID", tm.clientID, "status", resp.StatusCode)
	}
}

// ClearToken drops the stored token without any network call. Used after a
// credential rotation so the next request fetches a token under the new
// secret.
func (tm *TokenManager) ClearToken() {
	tm.setToken(nil)
}

// IsAuthenticated reports whether a currently valid token is held. No I/O.
func (tm *TokenManager) IsAuthenticated() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.token.Valid()
}

// TokenExpiration returns the buffered expiry instant of the stored token,
// or the zero time when none is held. No I/O.
func (tm *TokenManager) TokenExpiration() time.Time {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.token == nil {
		return time.Time{}
	}
	return tm.token.ExpiresAt
}

// rotateSecret swaps the client secret after a successful rotation handshake
// and forces the next request to authenticate under the new credential.
func (tm *TokenManager) rotateSecret(newSecret string) {
	tm.mu.Lock()
	tm.clientSecret = newSecret
	tm.mu.Unlock()
	tm.ClearToken()
}

// AuthenticatedClient returns an *http.Client whose every request first
// obtains a valid access token and carries it as a bearer Authorization
// header. A token fetch failure aborts the request before it is sent.
func (tm *TokenManager) AuthenticatedClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &bearerTransport{manager: tm, base: http.DefaultTransport},
	}
}

// bearerTransport injects the managed token into outbound requests.
type bearerTransport struct {
	manager *TokenManager
	base    http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.manager.AccessToken(req.Context())
	if err != nil {
		return nil, fmt.Errorf("acquiring access token: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(clone)
}
