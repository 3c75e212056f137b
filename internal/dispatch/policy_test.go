package dispatch

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	t.Parallel()
	r := NewRateLimiter(3)

	sent := 0
	for i := 0; i < 5; i++ {
		now := t0.Add(time.Duration(i) * time.Second)
		if !r.CanSend(now) {
			continue
		}
		r.RecordSuccess()
		sent++
	}
	if sent != 3 {
		t.Fatalf("sent in first window = %d, want 3", sent)
	}
	now := t0.Add(5 * time.Second)
	if got := r.TimeUntilAvailable(now); got != 55*time.Second {
		t.Fatalf("TimeUntilAvailable = %v, want 55s", got)
	}
	if got := r.SentInWindow(now); got != 3 {
		t.Fatalf("SentInWindow = %d, want 3", got)
	}

	next := t0.Add(RateWindow)
	if !r.CanSend(next) {
		t.Fatal("expected a new window at the boundary")
	}
	if got := r.SentInWindow(next); got != 0 {
		t.Fatalf("SentInWindow after reset = %d", got)
	}
}

func TestRateLimiterFailuresDoNotCount(t *testing.T) {
	t.Parallel()
	r := NewRateLimiter(1)
	for i := 0; i < 10; i++ {
		if !r.CanSend(t0) {
			t.Fatalf("admission %d refused without any recorded success", i)
		}
	}
	r.RecordSuccess()
	if r.CanSend(t0) {
		t.Fatal("expected limit reached")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	t.Parallel()
	r := NewRateLimiter(0)
	if r.Limit() != DefaultRateLimit {
		t.Fatalf("Limit = %d, want %d", r.Limit(), DefaultRateLimit)
	}
	if r.TimeUntilAvailable(t0) != 0 || r.WindowRemaining(t0) != 0 {
		t.Fatal("fresh limiter should be immediately available")
	}
	r.SetLimit(-4)
	if r.Limit() != DefaultRateLimit {
		t.Fatalf("SetLimit(-4) -> %d", r.Limit())
	}
}

func TestRetryPolicyFlat(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy("", 0, 0)
	for attempts := 1; attempts <= 5; attempts++ {
		if d := p.NextDelay(errors.New("boom"), attempts); d != DefaultRetryDelay {
			t.Fatalf("NextDelay(attempt %d) = %v, want %v", attempts, d, DefaultRetryDelay)
		}
	}

	cases := []struct {
		attempts, max int
		want          bool
	}{
		{0, 3, true}, {2, 3, true}, {3, 3, false}, {4, 3, false}, {1, 1, false},
	}
	for _, tc := range cases {
		if got := p.ShouldRetry(tc.attempts, tc.max); got != tc.want {
			t.Fatalf("ShouldRetry(%d, %d) = %v", tc.attempts, tc.max, got)
		}
	}
}

func TestRetryPolicyExponentialBounded(t *testing.T) {
	t.Parallel()
	base, maxDelay := 100*time.Millisecond, 2*time.Second
	p := NewRetryPolicy(RetryExponential, base, maxDelay)
	for attempts := 1; attempts <= 12; attempts++ {
		d := p.NextDelay(errors.New("boom"), attempts)
		if d < base || d > maxDelay {
			t.Fatalf("NextDelay(attempt %d) = %v, want within [%v, %v]", attempts, d, base, maxDelay)
		}
	}
}

func TestRetryPolicyClassification(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(RetryFlat, time.Second, time.Minute)

	if p.Retryable(transport.NoRetry(errors.New("550 no such user"))) {
		t.Fatal("NoRetry error classified as retryable")
	}
	if !p.Retryable(fmt.Errorf("wrapped: %w", errors.New("timeout"))) {
		t.Fatal("plain error classified as permanent")
	}

	hinted := transport.RetryAfter(errors.New("421 try later"), 30*time.Second)
	if d := p.NextDelay(hinted, 1); d != 30*time.Second {
		t.Fatalf("NextDelay with hint = %v, want 30s", d)
	}
	huge := transport.RetryAfter(errors.New("flood"), time.Hour)
	if d := p.NextDelay(huge, 1); d != time.Minute {
		t.Fatalf("NextDelay with oversized hint = %v, want capped 1m", d)
	}
	short := transport.RetryAfter(errors.New("brief"), time.Millisecond)
	if d := p.NextDelay(short, 1); d != time.Second {
		t.Fatalf("NextDelay with short hint = %v, want base 1s", d)
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()
	cases := map[string]Priority{"high": PriorityHigh, " LOW ": PriorityLow, "": PriorityMedium, "normal": PriorityMedium}
	for in, want := range cases {
		got, err := ParsePriority(in)
		if err != nil || got != want {
			t.Fatalf("ParsePriority(%q) = (%v, %v), want %v", in, got, err, want)
		}
	}
	if _, err := ParsePriority("urgent"); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("ParsePriority(urgent) err = %v", err)
	}
}

func TestDedupCacheEviction(t *testing.T) {
	t.Parallel()
	c := newDedupCache(time.Minute, 2)
	c.remember("a", "m1", t0)
	c.remember("b", "m2", t0)
	c.remember("c", "m3", t0)

	if _, ok := c.lookup("a", t0); ok {
		t.Fatal("oldest key should have been evicted")
	}
	if id, ok := c.lookup("c", t0); !ok || id != "m3" {
		t.Fatalf("lookup(c) = (%q, %v)", id, ok)
	}
	if _, ok := c.lookup("b", t0.Add(time.Minute)); ok {
		t.Fatal("expired key still live")
	}
	if n := c.prune(t0.Add(time.Minute)); n != 1 {
		t.Fatalf("prune removed %d, want 1", n)
	}
	if c.len() != 0 {
		t.Fatalf("len = %d after prune", c.len())
	}
}
