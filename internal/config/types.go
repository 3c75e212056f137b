package config

// Config is the on-disk daemon configuration (JSON or YAML).
//
// Unknown keys are rejected at parse time so typos surface on reload instead
// of silently falling back to defaults.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Transport TransportConfig `json:"transport"`
	HTTP      HTTPConfig      `json:"http"`

	DKIM         *DKIMConfig         `json:"dkim,omitempty"`
	Storage      *StorageConfig      `json:"storage,omitempty"`
	Housekeeping *HousekeepingConfig `json:"housekeeping,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`

	// RedactRecipients masks recipient addresses in log lines.
	RedactRecipients bool `json:"redact_recipients"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DispatchConfig controls the outbound queue worker.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - rate_limit_per_minute: 60
//   - max_attempts: 3
//   - retry_strategy: "flat"
//   - retry_delay: "5s"
//   - retry_max_delay: "5m" (exponential only)
//   - pacing_gap: "100ms"
//   - send_timeout: "30s"
//   - dedup_window: "10m"
//   - dedup_max_entries: 10000
//   - recent_failures: 50
type DispatchConfig struct {
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	MaxAttempts        int    `json:"max_attempts"`
	RetryStrategy      string `json:"retry_strategy,omitempty"`
	RetryDelay         string `json:"retry_delay"`
	RetryMaxDelay      string `json:"retry_max_delay,omitempty"`
	PacingGap          string `json:"pacing_gap"`
	SendTimeout        string `json:"send_timeout,omitempty"`
	DedupWindow        string `json:"dedup_window,omitempty"`
	DedupMaxEntries    int    `json:"dedup_max_entries,omitempty"`
	RecentFailures     int    `json:"recent_failures,omitempty"`
}

// TransportConfig selects the delivery channel.
//
// Driver is one of "smtp", "telegram" or "log" (dry run).
type TransportConfig struct {
	Driver   string         `json:"driver"`
	SMTP     SMTPConfig     `json:"smtp"`
	Telegram TelegramConfig `json:"telegram"`
	Log      LogSinkConfig  `json:"log,omitempty"`
}

// SMTPConfig configures the mail transport.
//
// When Relay is empty the transport resolves recipient MX records and
// delivers directly.
//
// Password is usually supplied through INSIGHTMEET_SMTP_PASSWORD; never log it.
type SMTPConfig struct {
	From     string `json:"from"`
	Hostname string `json:"hostname,omitempty"` // HELO/EHLO name; default os.Hostname()
	Relay    string `json:"relay,omitempty"`    // host:port
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	RequireTLS         bool   `json:"require_tls,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
	DialTimeout        string `json:"dial_timeout,omitempty"`
}

// TelegramConfig configures the chat transport.
//
// Recipients are chat ids, optionally with a forum thread ("-100123:42").
type TelegramConfig struct {
	Token    string `json:"token,omitempty"`
	Endpoint string `json:"endpoint,omitempty"` // default Bot API URL
	Timeout  string `json:"timeout,omitempty"`
}

type LogSinkConfig struct {
	// FailEvery makes every Nth send fail with a transient error (0 = never).
	FailEvery int `json:"fail_every,omitempty"`
}

// DKIMConfig enables message signing for the smtp transport.
//
// Example:
//
//	"dkim": { "enabled": true, "domain": "example.com", "selector": "mail", "key_path": "/etc/insightmeet/dkim.pem" }
type DKIMConfig struct {
	Enabled    bool   `json:"enabled"`
	Domain     string `json:"domain"`
	Selector   string `json:"selector"`
	KeyPath    string `json:"key_path,omitempty"`
	PrivateKey string `json:"private_key,omitempty"` // inline PEM; prefer INSIGHTMEET_DKIM_PRIVATE_KEY
}

// StorageConfig controls the outcome journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./insightmeet.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // file, sqlite, bolt, none
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retain      int    `json:"retain,omitempty"`       // max journal rows kept by the prune job; 0 = unlimited
}

// HTTPConfig controls the operational API.
//
// Prefer binding to localhost. A non-loopback Addr requires Token unless
// AllowInsecure is set.
type HTTPConfig struct {
	Enabled         bool   `json:"enabled"`
	Addr            string `json:"addr,omitempty"` // default: "127.0.0.1:8089"
	Token           string `json:"token,omitempty"`
	AllowInsecure   bool   `json:"allow_insecure,omitempty"`
	Pprof           bool   `json:"pprof,omitempty"` // mount net/http/pprof under /debug/pprof/
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	MaxBodyBytes    int64  `json:"max_body_bytes,omitempty"`
}

// HousekeepingConfig schedules periodic maintenance jobs.
//
// Specs accept standard 5-field cron expressions or descriptors such as "@every 1m".
// Empty specs select the built-in schedule and "off" disables the job. The
// watchdog defaults to half of systemd's WATCHDOG_USEC when running under a
// unit with WatchdogSec set.
type HousekeepingConfig struct {
	Enabled    bool   `json:"enabled"`
	Timezone   string `json:"timezone,omitempty"`
	StatusLog  string `json:"status_log,omitempty"`
	DedupPrune string `json:"dedup_prune,omitempty"`
	JournalGC  string `json:"journal_gc,omitempty"`
	Watchdog   string `json:"watchdog,omitempty"`
}
