package backoff

import "time"

// Calculator binds a Strategy so callers share one place for delay math
// instead of duplicating it across the client and the retry engine.
type Calculator struct {
	strategy Strategy
}

// NewCalculator creates a calculator using the given strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{strategy: strategy}
}

// Calculate computes the wait before the given 1-based attempt.
func (c *Calculator) Calculate(attempt int, initialDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration {
	return c.strategy.Calculate(attempt, initialDelay, maxDelay, multiplier, jitter)
}

// ExponentialJitter returns a calculator with the default exponential
// backoff plus uniform jitter strategy.
func ExponentialJitter() *Calculator {
	return NewCalculator(ExponentialJitterStrategy{})
}

// DecorrelatedJitter returns a calculator with AWS-style decorrelated jitter.
func DecorrelatedJitter() *Calculator {
	return NewCalculator(DecorrelatedJitterStrategy{})
}
