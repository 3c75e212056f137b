package dispatch

import (
	"strings"
	"time"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
)

const (
	RetryFlat        = "flat"
	RetryExponential = "exponential"
)

// RetryPolicy decides whether a failed attempt is retried and when.
//
// The default is a flat delay between attempts. The exponential strategy
// doubles from the base delay with full jitter, bounded by MaxDelay.
type RetryPolicy struct {
	strategy backoff.Strategy
	base     time.Duration
	maxDelay time.Duration
}

// NewRetryPolicy builds a policy; zero durations select the defaults.
func NewRetryPolicy(kind string, base, maxDelay time.Duration) RetryPolicy {
	if base <= 0 {
		base = DefaultRetryDelay
	}
	if maxDelay < base {
		maxDelay = max(DefaultRetryMaxDelay, base)
	}
	p := RetryPolicy{base: base, maxDelay: maxDelay}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case RetryExponential:
		p.strategy = backoff.WithTransforms(
			backoff.Exponential(base),
			linger.FullJitter,
			linger.Limiter(base, maxDelay),
		)
	default:
		p.strategy = backoff.Constant(base)
	}
	return p
}

// ShouldRetry reports whether another attempt is allowed.
func (RetryPolicy) ShouldRetry(attempts, maxAttempts int) bool {
	return attempts < maxAttempts
}

// Retryable reports whether err may succeed on a later attempt.
func (RetryPolicy) Retryable(err error) bool {
	return err != nil && !transport.IsNoRetry(err)
}

// NextDelay is the wait before the next attempt, given the number of attempts
// made so far (>= 1). A longer provider hint (transport.RetryAfter) wins,
// capped at the policy's max delay.
func (p RetryPolicy) NextDelay(err error, attempts int) time.Duration {
	n := uint(0)
	if attempts > 1 {
		n = uint(attempts - 1)
	}
	d := p.strategy(err, n)
	if hint, ok := transport.RetryAfterHint(err); ok && hint > d {
		d = min(hint, max(p.maxDelay, d))
	}
	return d
}
