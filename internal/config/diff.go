package config

import (
	"reflect"
	"strings"

	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

// SummarizeConfigChange returns the names of changed top-level sections and
// structured attrs that are safe to log (secrets are reported as "set" flags only).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.redact_recipients", newCfg.Logging.RedactRecipients),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		d := newCfg.Dispatch
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.rate_limit_per_minute", d.RateLimitPerMinute),
			logx.Int("dispatch.max_attempts", d.MaxAttempts),
			logx.String("dispatch.retry_strategy", strings.TrimSpace(d.RetryStrategy)),
			logx.String("dispatch.retry_delay", strings.TrimSpace(d.RetryDelay)),
			logx.String("dispatch.pacing_gap", strings.TrimSpace(d.PacingGap)),
		)
	}

	if oldCfg.Transport != newCfg.Transport {
		t := newCfg.Transport
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.driver", newCfg.TransportDriver()),
			logx.String("transport.smtp.relay", strings.TrimSpace(t.SMTP.Relay)),
			logx.Bool("transport.smtp.password_set", t.SMTP.Password != ""),
			logx.Bool("transport.telegram.token_set", t.Telegram.Token != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.DKIM, newCfg.DKIM) {
		changed = append(changed, "dkim")
		if k := newCfg.DKIM; k != nil {
			attrs = append(attrs,
				logx.Bool("dkim.enabled", k.Enabled),
				logx.String("dkim.domain", k.Domain),
				logx.String("dkim.selector", k.Selector),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if s := newCfg.Storage; s != nil {
			attrs = append(attrs, logx.String("storage.driver", s.Driver), logx.String("storage.path", s.Path))
		}
	}

	if !reflect.DeepEqual(oldCfg.Housekeeping, newCfg.Housekeeping) {
		changed = append(changed, "housekeeping")
	}

	return changed, attrs
}
