package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

// Store is the persistence API used by the dispatch service and the HTTP API.
type Store interface {
	AppendOutcome(ctx context.Context, r OutcomeRecord) error
	// RecentOutcomes returns up to limit records, newest first.
	RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error)
	// PruneOutcomes keeps the newest keep records and reports how many were removed.
	PruneOutcomes(ctx context.Context, keep int) (int, error)

	PutDedup(ctx context.Context, e DedupEntry) error
	// LoadDedup returns entries still valid at now.
	LoadDedup(ctx context.Context, now time.Time) ([]DedupEntry, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
