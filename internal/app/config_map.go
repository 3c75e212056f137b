package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/config"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/dispatch"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/dkim"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/housekeeping"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/httpapi"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/storage"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport/smtp"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport/telegram"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

// Default housekeeping schedules, used when the config leaves a job unset.
const (
	defaultStatusLog  = "5m"
	defaultDedupPrune = "1m"
	defaultJournalGC  = "1h"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		RedactRecipients: cfg.Logging.RedactRecipients,
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	out := dispatch.Config{
		RateLimitPerMinute: d.RateLimitPerMinute,
		MaxAttempts:        d.MaxAttempts,
		RetryStrategy:      strings.ToLower(strings.TrimSpace(d.RetryStrategy)),
		DedupMaxEntries:    d.DedupMaxEntries,
		RecentFailures:     d.RecentFailures,
	}
	var err error
	if out.RetryDelay, err = config.ParseDurationOrDefault("dispatch.retry_delay", d.RetryDelay, dispatch.DefaultRetryDelay); err != nil {
		return dispatch.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("dispatch.retry_max_delay", d.RetryMaxDelay, dispatch.DefaultRetryMaxDelay); err != nil {
		return dispatch.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("dispatch.send_timeout", d.SendTimeout, dispatch.DefaultSendTimeout); err != nil {
		return dispatch.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("dispatch.dedup_window", d.DedupWindow, dispatch.DefaultDedupWindow); err != nil {
		return dispatch.Config{}, err
	}
	// "0" turns pacing off; an empty string keeps the default.
	switch raw := strings.TrimSpace(d.PacingGap); raw {
	case "":
		out.PacingGap = dispatch.DefaultPacingGap
	default:
		gap, err := config.ParseDurationField("dispatch.pacing_gap", raw)
		if err != nil {
			return dispatch.Config{}, err
		}
		if gap == 0 {
			gap = -1
		}
		out.PacingGap = gap
	}
	return out, nil
}

func mapSMTPConfig(cfg *config.Config) (smtp.Config, error) {
	s := cfg.Transport.SMTP
	dial, err := config.ParseDurationOrDefault("transport.smtp.dial_timeout", s.DialTimeout, 30*time.Second)
	if err != nil {
		return smtp.Config{}, err
	}
	return smtp.Config{
		From:               s.From,
		Hostname:           strings.TrimSpace(s.Hostname),
		Relay:              strings.TrimSpace(s.Relay),
		Username:           s.Username,
		Password:           s.Password,
		RequireTLS:         s.RequireTLS,
		InsecureSkipVerify: s.InsecureSkipVerify,
		DialTimeout:        dial,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	t := cfg.Transport.Telegram
	timeout, err := config.ParseDurationOrDefault("transport.telegram.timeout", t.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: t.Token, Endpoint: strings.TrimSpace(t.Endpoint), Timeout: timeout}, nil
}

// mapDKIMOptions reports false when signing is disabled.
func mapDKIMOptions(cfg *config.Config) (dkim.Options, bool) {
	k := cfg.DKIM
	if k == nil || !k.Enabled {
		return dkim.Options{}, false
	}
	return dkim.Options{
		Domain:     strings.TrimSpace(k.Domain),
		Selector:   strings.TrimSpace(k.Selector),
		KeyPath:    strings.TrimSpace(k.KeyPath),
		PrivateKey: k.PrivateKey,
	}, true
}

// mapStorageConfig reports false when the journal is disabled. keep is the
// retention bound for the journal GC job (0 = unlimited).
func mapStorageConfig(cfg *config.Config) (sc storage.Config, keep int, enabled bool, err error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, 0, false, nil
	}
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, 0, false, nil
	}
	path := strings.TrimSpace(s.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./insightmeet"
		}
		return storage.Config{Driver: "file", Path: path}, s.Retain, true, nil
	case "sqlite", "sqlite3", "bolt", "bbolt":
		if path == "" {
			return storage.Config{}, 0, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, 0, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, s.Retain, true, nil
	default:
		return storage.Config{}, 0, false, fmt.Errorf("unknown storage.driver: %s", s.Driver)
	}
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	addr := strings.TrimSpace(h.Addr)
	if addr == "" {
		addr = httpapi.DefaultAddr
	}
	return httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   60 * time.Second,
	}, nil
}

func mapShutdownTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 5*time.Second)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// housekeepingPlan is the service config plus the schedule of every job.
// An empty schedule disables that job.
type housekeepingPlan struct {
	cfg        housekeeping.Config
	statusLog  string
	dedupPrune string
	journalGC  string
	watchdog   string
}

func mapHousekeepingConfig(cfg *config.Config) (housekeepingPlan, error) {
	p := housekeepingPlan{
		cfg:        housekeeping.Config{Enabled: true},
		statusLog:  defaultStatusLog,
		dedupPrune: defaultDedupPrune,
		journalGC:  defaultJournalGC,
	}
	if h := cfg.Housekeeping; h != nil {
		p.cfg = housekeeping.Config{Enabled: h.Enabled, Timezone: strings.TrimSpace(h.Timezone)}
		p.statusLog = orDefault(h.StatusLog, defaultStatusLog)
		p.dedupPrune = orDefault(h.DedupPrune, defaultDedupPrune)
		p.journalGC = orDefault(h.JournalGC, defaultJournalGC)
		p.watchdog = strings.TrimSpace(h.Watchdog)
	}
	switch {
	case strings.EqualFold(p.watchdog, "off"):
		p.watchdog = ""
	case p.watchdog == "":
		wd, err := housekeeping.WatchdogSchedule()
		if err != nil {
			return housekeepingPlan{}, fmt.Errorf("housekeeping.watchdog: %w", err)
		}
		p.watchdog = wd
	}

	if tz := p.cfg.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return housekeepingPlan{}, fmt.Errorf("housekeeping.timezone: invalid %q: %w", tz, err)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"housekeeping.status_log", p.statusLog},
		{"housekeeping.dedup_prune", p.dedupPrune},
		{"housekeeping.journal_gc", p.journalGC},
		{"housekeeping.watchdog", p.watchdog},
	} {
		if f.raw == "" {
			continue
		}
		if _, _, err := housekeeping.ParseSchedule(f.raw); err != nil {
			return housekeepingPlan{}, fmt.Errorf("%s: %w", f.path, err)
		}
	}
	return p, nil
}

// orDefault maps "off" to the empty (disabled) schedule.
func orDefault(raw, def string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return def
	case strings.EqualFold(raw, "off"):
		return ""
	default:
		return raw
	}
}
