// Package ledgerline is the Go client for the Ledgerline financial
// infrastructure API: accounts, transfers, addresses and automation rules.
//
// The client is built around a request-reliability core:
//
//   - OAuth2 client-credentials token lifecycle with expiry-aware reuse,
//     single-flight refresh and best-effort revocation
//   - Idempotency keys (random and deterministic) that make mutating calls
//     safe to retry, with optional local result caching
//   - Retries with exponential backoff + jitter and a pluggable predicate
//   - An independent circuit breaker (closed / open / half-open)
//   - A typed error taxonomy (auth, rate-limit, validation, API, network)
//     so callers branch on kinds instead of raw transport failures
//   - Prometheus metrics and structured logging hooks
//
// Typical usage:
//
//	client, err := ledgerline.New(clientID, clientSecret,
//	    ledgerline.WithMaxRetries(3),
//	    ledgerline.WithCircuitBreaker(ledgerline.CircuitBreakerConfig{}),
//	    ledgerline.WithIdempotencyManager(ledgerline.NewIdempotencyManager()),
//	)
//	if err != nil {
//	    // configuration problem, reported before any network activity
//	}
//	transfer, err := client.Transfers.Create(ctx, accountID,
//	    &ledgerline.CreateTransferRequest{
//	        Amount:      "125.00",
//	        Currency:    "USD",
//	        Source:      ledgerline.TransferEndpoint{Type: "account", ID: accountID},
//	        Destination: ledgerline.TransferEndpoint{Type: "address", ID: addrID},
//	    })
//
// Every outbound request obtains a valid bearer token first (refreshing with
// single-flight deduplication when needed), mutating requests carry an
// Idempotency-Key header, and transient failures are retried with backoff
// while terminal ones surface immediately as *APIError values.
package ledgerline
