package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the wait before a retry attempt. Attempt numbering is
// 1-based: the delay returned for attempt n is the wait that follows the
// n-th failed try.
type Strategy interface {
	Calculate(attempt int, initialDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitterStrategy grows the delay geometrically and adds a uniform
// random extra of up to jitter*delay, never exceeding maxDelay.
type ExponentialJitterStrategy struct{}

// Calculate implements Strategy.
func (s ExponentialJitterStrategy) Calculate(attempt int, initialDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration {
	exponent := attempt - 1
	if exponent < 0 {
		exponent = 0
	}
	// Cap the exponent so the float math cannot overflow.
	if exponent > 30 {
		exponent = 30
	}

	delay := time.Duration(float64(initialDelay) * pow(multiplier, exponent))
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		extra := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+extra > maxDelay {
			delay = maxDelay
		} else {
			delay += extra
		}
	}
	return delay
}

// DecorrelatedJitterStrategy implements AWS-style decorrelated jitter:
// a random delay between the base and base*3^attempt, capped at maxDelay.
// It spreads retry storms more evenly than plain exponential jitter.
type DecorrelatedJitterStrategy struct{}

// Calculate implements Strategy. The multiplier and jitter parameters are
// ignored; decorrelated jitter fixes its own growth factor.
func (s DecorrelatedJitterStrategy) Calculate(attempt int, initialDelay, maxDelay time.Duration, _, _ float64) time.Duration {
	exponent := attempt - 1
	if exponent <= 0 {
		return initialDelay
	}
	if exponent > 10 {
		exponent = 10
	}

	base := float64(initialDelay)
	upper := base * pow(3.0, exponent)

	maxF := float64(maxDelay)
	if upper > maxF || upper < 0 {
		upper = maxF
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
