package dispatch

import "time"

const (
	DefaultRateLimit      = 60
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = 5 * time.Second
	DefaultRetryMaxDelay  = 5 * time.Minute
	DefaultPacingGap      = 100 * time.Millisecond
	DefaultSendTimeout    = 30 * time.Second
	DefaultDedupWindow    = 10 * time.Minute
	DefaultDedupEntries   = 10000
	DefaultRecentFailures = 50
)

// Config controls the dispatch service. Zero values select the defaults above.
type Config struct {
	RateLimitPerMinute int
	MaxAttempts        int

	RetryStrategy string // "flat" (default) or "exponential"
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration

	// PacingGap is the minimum spacing between delivery attempts.
	// Negative disables pacing.
	PacingGap   time.Duration
	SendTimeout time.Duration

	DedupWindow     time.Duration
	DedupMaxEntries int

	// RecentFailures bounds the permanent-failure ring kept for snapshots.
	RecentFailures int
}

func (c Config) withDefaults() Config {
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = DefaultRateLimit
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryStrategy == "" {
		c.RetryStrategy = RetryFlat
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.PacingGap == 0 {
		c.PacingGap = DefaultPacingGap
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = DefaultDedupEntries
	}
	if c.RecentFailures <= 0 {
		c.RecentFailures = DefaultRecentFailures
	}
	return c
}
