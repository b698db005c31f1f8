package ledgerline

import (
	"net/http"
)

// Middleware wraps an outbound request on its way to the transport. The
// middleware chain runs inside the retry loop, once per attempt, after token
// injection.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper is the transport interface middleware delegates to.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// ListOptions control paginated list calls.
type ListOptions struct {
	// Limit caps the page size; zero lets the server choose.
	Limit int
	// Cursor resumes listing from a previous page's NextCursor.
	Cursor string
}

// Page carries pagination state returned by list endpoints.
type Page struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// mutatingMethod reports whether a request method changes remote state and
// therefore carries an idempotency key.
func mutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
