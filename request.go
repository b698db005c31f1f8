package ledgerline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// newRequest builds an API request against the configured base URL. A non-nil
// body is JSON-encoded; the resulting request supports body replay across
// retry attempts.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doJSON runs a request through the pipeline and decodes the JSON response
// into out (which may be nil for calls whose body is irrelevant). A non-empty
// idempotencyKey is validated and attached; mutating requests without one get
// a random key in Do.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, idempotencyKey string) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	if idempotencyKey != "" {
		if !ValidateKey(idempotencyKey) {
			return NewValidationError("invalid idempotency key", map[string]any{"key": idempotencyKey})
		}
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewNetworkError("decoding response body failed", err)
	}
	return nil
}

// listQuery renders pagination options as a query string, empty options
// included so callers can blindly append it.
func listQuery(opts *ListOptions) string {
	if opts == nil {
		return ""
	}
	values := url.Values{}
	if opts.Limit > 0 {
		values.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		values.Set("cursor", opts.Cursor)
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}
