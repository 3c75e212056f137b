package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "INSIGHTMEET_"

// LoadDotEnv loads KEY=VALUE files into the process environment.
// Variables that are already set win over file contents, and missing
// files are ignored so a bare checkout starts without one.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// Bool reads an environment variable and returns a boolean value.
// Only "true" or "false" (case-insensitive) are recognised; any other
// value results in the provided default.
func Bool(key string, def bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "true":
		return true
	case "false":
		return false
	default:
		return def
	}
}

// ApplyEnv overlays INSIGHTMEET_* variables onto cfg. Secrets are expected to
// come from here rather than the config file.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("TRANSPORT_DRIVER", &cfg.Transport.Driver)
	str("SMTP_FROM", &cfg.Transport.SMTP.From)
	str("SMTP_RELAY", &cfg.Transport.SMTP.Relay)
	str("SMTP_USERNAME", &cfg.Transport.SMTP.Username)
	str("SMTP_PASSWORD", &cfg.Transport.SMTP.Password)
	str("SMTP_HOSTNAME", &cfg.Transport.SMTP.Hostname)
	str("TELEGRAM_TOKEN", &cfg.Transport.Telegram.Token)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("HTTP_TOKEN", &cfg.HTTP.Token)
	num("RATE_LIMIT_PER_MINUTE", &cfg.Dispatch.RateLimitPerMinute)
	cfg.Transport.SMTP.RequireTLS = Bool(EnvPrefix+"SMTP_REQUIRE_TLS", cfg.Transport.SMTP.RequireTLS)

	if v := strings.TrimSpace(os.Getenv(EnvPrefix + "DKIM_PRIVATE_KEY")); v != "" {
		if cfg.DKIM == nil {
			cfg.DKIM = &DKIMConfig{}
		}
		// Single-line env values commonly carry escaped newlines.
		cfg.DKIM.PrivateKey = strings.ReplaceAll(v, `\n`, "\n")
	}
}
