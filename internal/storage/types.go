package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "bolt": bbolt key/value file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OutcomeRecord is one terminal dispatch result.
// Keep it compact and schema-stable.
type OutcomeRecord struct {
	Seq        uint64            `json:"seq,omitempty"`
	MessageID  string            `json:"message_id"`
	Kind       string            `json:"kind"`
	Priority   string            `json:"priority,omitempty"`
	Recipients []string          `json:"recipients,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Attempts   int               `json:"attempts"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	At         time.Time         `json:"at"`
}

// DedupEntry maps a caller-supplied dedup key to the message it produced.
type DedupEntry struct {
	Key       string    `json:"key"`
	MessageID string    `json:"message_id"`
	Until     time.Time `json:"until"`
}
