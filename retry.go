package ledgerline

import (
	"context"
	"time"

	"github.com/ledgerline/ledgerline-go/internal/backoff"
)

// Default retry tuning.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitter       = 0.1
)

// ShouldRetryFunc decides whether a failed attempt deserves another try.
type ShouldRetryFunc func(err error, attempt int) bool

// OnRetryFunc observes each scheduled retry before the wait begins.
type OnRetryFunc func(err error, attempt int, delay time.Duration)

// RetryOptions tunes the retry engine. The zero value is usable: zero fields
// fall back to the package defaults and the default retry predicate.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	ShouldRetry  ShouldRetryFunc
	OnRetry      OnRetryFunc

	calculator *backoff.Calculator
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Multiplier <= 0 {
		o.Multiplier = DefaultMultiplier
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = DefaultShouldRetry
	}
	if o.calculator == nil {
		o.calculator = backoff.ExponentialJitter()
	}
	return o
}

// DefaultShouldRetry retries transient failures only: network errors, 5xx
// responses, request timeouts and rate limiting. Auth and validation errors
// are terminal.
func DefaultShouldRetry(err error, _ int) bool {
	return IsRetryable(err)
}

// Retry executes op up to MaxAttempts times with exponential backoff and
// jitter between attempts. Attempts are strictly sequential and every attempt
// invokes the real operation; nothing is cached. The error of the final
// attempt is returned, and the final attempt is never followed by a wait.
func Retry(ctx context.Context, op func(context.Context) error, opts RetryOptions) error {
	_, err := RetryResult(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// RetryResult is Retry for operations that produce a value.
func RetryResult[T any](ctx context.Context, op func(context.Context) (T, error), opts RetryOptions) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == opts.MaxAttempts || !opts.ShouldRetry(err, attempt) {
			break
		}

		delay := opts.calculator.Calculate(attempt, opts.InitialDelay, opts.MaxDelay, opts.Multiplier, opts.Jitter)
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// WrapRetry decorates op with the retry contract without changing its
// signature.
func WrapRetry(op func(context.Context) error, opts RetryOptions) func(context.Context) error {
	return func(ctx context.Context) error {
		return Retry(ctx, op, opts)
	}
}

// sleep waits for d or until the context is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
