package ledgerline

import (
	"time"
)

// expiryBuffer is subtracted from the server-declared token lifetime so a
// token is never presented within five minutes of its real expiry.
const expiryBuffer = 5 * time.Minute

// Token is an immutable OAuth2 access grant. A refresh produces a new Token
// value that replaces the old one wholesale; fields are never mutated in
// place, so concurrent readers only ever see a complete token.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	Scope       string
}

// Valid reports whether the token exists and has not reached its buffered
// expiry instant.
func (t *Token) Valid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return time.Now().Before(t.ExpiresAt)
}

// tokenResponse is the token endpoint's 200 response body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// newToken builds a Token from a token endpoint response, applying the
// expiry buffer to the declared lifetime.
func newToken(resp tokenResponse, now time.Time) *Token {
	return &Token{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresAt:   now.Add(time.Duration(resp.ExpiresIn)*time.Second - expiryBuffer),
		Scope:       resp.Scope,
	}
}
