package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate performs structural checks that don't require touching the network
// or the filesystem. Component-level mapping (durations into typed configs)
// happens in internal/app and may report additional errors.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	d := c.Dispatch
	if d.RateLimitPerMinute < 0 {
		add("dispatch.rate_limit_per_minute must be >= 0")
	}
	if d.MaxAttempts < 0 {
		add("dispatch.max_attempts must be >= 0")
	}
	if d.DedupMaxEntries < 0 {
		add("dispatch.dedup_max_entries must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(d.RetryStrategy)) {
	case "", "flat", "exponential":
	default:
		add("dispatch.retry_strategy: unknown strategy %q", d.RetryStrategy)
	}
	for _, f := range []struct{ path, raw string }{
		{"dispatch.retry_delay", d.RetryDelay},
		{"dispatch.retry_max_delay", d.RetryMaxDelay},
		{"dispatch.pacing_gap", d.PacingGap},
		{"dispatch.send_timeout", d.SendTimeout},
		{"dispatch.dedup_window", d.DedupWindow},
		{"transport.smtp.dial_timeout", c.Transport.SMTP.DialTimeout},
		{"transport.telegram.timeout", c.Transport.Telegram.Timeout},
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.shutdown_timeout", c.HTTP.ShutdownTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.TransportDriver() {
	case "log":
	case "smtp":
		if strings.TrimSpace(c.Transport.SMTP.From) == "" {
			add("transport.smtp.from is required when transport.driver=smtp")
		}
		if relay := strings.TrimSpace(c.Transport.SMTP.Relay); relay != "" {
			if _, _, err := net.SplitHostPort(relay); err != nil {
				add("transport.smtp.relay: %v", err)
			}
		}
	case "telegram":
		if strings.TrimSpace(c.Transport.Telegram.Token) == "" {
			add("transport.telegram.token is required when transport.driver=telegram")
		}
	default:
		add("transport.driver: unknown driver %q", c.Transport.Driver)
	}

	if k := c.DKIM; k != nil && k.Enabled {
		if strings.TrimSpace(k.Domain) == "" || strings.TrimSpace(k.Selector) == "" {
			add("dkim.domain and dkim.selector are required when dkim.enabled")
		}
		if strings.TrimSpace(k.KeyPath) == "" && strings.TrimSpace(k.PrivateKey) == "" {
			add("dkim.key_path or dkim.private_key is required when dkim.enabled")
		}
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3", "bolt", "bbolt":
			if strings.TrimSpace(s.Path) == "" {
				add("storage.path is required when storage.driver=%s", s.Driver)
			}
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
		if s.Retain < 0 {
			add("storage.retain must be >= 0")
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if c.HTTP.Enabled && strings.TrimSpace(c.HTTP.Addr) != "" {
		if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
			add("http.addr: %v", err)
		}
	}
	return errors.Join(errs...)
}

// TransportDriver returns the normalised transport driver name ("log" when unset).
func (c *Config) TransportDriver() string {
	d := strings.ToLower(strings.TrimSpace(c.Transport.Driver))
	if d == "" {
		return "log"
	}
	return d
}
