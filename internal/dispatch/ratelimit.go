package dispatch

import "time"

// RateWindow is the fixed accounting window of the rate limiter.
const RateWindow = time.Minute

// RateLimiter is a fixed-window counter of successful sends, matching the
// provider's own per-minute quota.
//
// It is not safe for concurrent use; the Service guards it with the same lock
// as the scheduler so admission and accounting are never observed torn.
type RateLimiter struct {
	limit       int
	window      time.Duration
	windowStart time.Time
	sent        int
}

func NewRateLimiter(limit int) *RateLimiter {
	r := &RateLimiter{window: RateWindow}
	r.SetLimit(limit)
	return r
}

// SetLimit changes the per-window ceiling. Values <= 0 select DefaultRateLimit.
// The current window's count is kept.
func (r *RateLimiter) SetLimit(limit int) {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	r.limit = limit
}

func (r *RateLimiter) Limit() int { return r.limit }

func (r *RateLimiter) expired(now time.Time) bool {
	return r.windowStart.IsZero() || now.Sub(r.windowStart) >= r.window
}

// CanSend starts a new window if the current one has elapsed, then reports
// whether another send fits into it.
func (r *RateLimiter) CanSend(now time.Time) bool {
	if r.expired(now) {
		r.windowStart = now
		r.sent = 0
	}
	return r.sent < r.limit
}

// RecordSuccess counts one successful delivery. Call it exactly once per
// success and never for failures.
func (r *RateLimiter) RecordSuccess() { r.sent++ }

// TimeUntilAvailable is how long the caller must wait before CanSend can
// return true. It is zero when a send is already possible.
func (r *RateLimiter) TimeUntilAvailable(now time.Time) time.Duration {
	if r.expired(now) || r.sent < r.limit {
		return 0
	}
	return r.windowStart.Add(r.window).Sub(now)
}

// SentInWindow reports successful sends in the window containing now.
func (r *RateLimiter) SentInWindow(now time.Time) int {
	if r.expired(now) {
		return 0
	}
	return r.sent
}

// WindowRemaining is the time left in the active window (zero if none is active).
func (r *RateLimiter) WindowRemaining(now time.Time) time.Duration {
	if r.expired(now) {
		return 0
	}
	return r.windowStart.Add(r.window).Sub(now)
}
