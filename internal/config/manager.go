package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

const validateTimeout = 5 * time.Second

// ConfigManager holds the committed config and hands validated reloads to
// subscribers.
type ConfigManager struct {
	path string

	mu     sync.RWMutex
	cfg    *Config
	digest [sha256.Size]byte

	// subMu is held across sends so Unsubscribe cannot close a channel
	// that is being written.
	subMu sync.Mutex
	subs  []chan *Config

	log      logx.Logger
	validate func(ctx context.Context, cfg *Config) error
	debounce time.Duration
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop(), debounce: 250 * time.Millisecond}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator adds a check that a reloaded config must pass before it is
// committed. Startup (Load) does not run it.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Parse reads and validates the file with environment overrides applied.
// The committed config is left alone.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(m.path, raw)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses the file and commits the result.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.store(cfg, digest(cfg))
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) store(cfg *Config, d [sha256.Size]byte) {
	m.mu.Lock()
	m.cfg, m.digest = cfg, d
	m.mu.Unlock()
}

// Reload re-reads the file and commits it when it differs from the current
// config and passes the validator. published is true when subscribers were
// sent the new config.
func (m *ConfigManager) Reload(ctx context.Context) (published bool, err error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	d := digest(cfg)

	m.mu.RLock()
	same := m.cfg != nil && d == m.digest
	m.mu.RUnlock()
	if same {
		return false, nil
	}

	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		defer cancel()
		if err := m.validate(vctx, cfg); err != nil {
			return false, fmt.Errorf("config rejected: %w", err)
		}
	}

	m.store(cfg, d)
	m.publish(cfg)
	m.log.Debug("config committed", logx.String("path", m.path), logx.String("digest", fmt.Sprintf("%x", d[:6])))
	return true, nil
}

// Subscribe registers a channel for committed reloads. A subscriber that
// falls behind loses intermediate versions but always gets the latest.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for i := range m.subs {
		if m.subs[i] == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		if !offerLatest(ch, cfg) {
			m.log.Debug("config update dropped for slow subscriber")
		}
	}
}

// offerLatest sends cfg, evicting the oldest queued config if ch is full.
func offerLatest(ch chan *Config, cfg *Config) bool {
	for range 2 {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}

// digest identifies a config by content so a rewrite with identical
// settings is not republished.
func digest(cfg *Config) [sha256.Size]byte {
	b, err := json.Marshal(cfg)
	if err != nil {
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(b)
}
