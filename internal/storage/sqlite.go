package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendOutcome(ctx context.Context, r OutcomeRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes(message_id, kind, priority, recipients, subject, attempts, err, meta, at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.MessageID, r.Kind, nullStr(r.Priority), jsonOrNull(r.Recipients), nullStr(r.Subject),
		r.Attempts, nullStr(r.Error), jsonOrNull(r.Metadata), r.At.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, message_id, kind, priority, recipients, subject, attempts, err, meta, at
		 FROM outcomes ORDER BY seq DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var (
			r                                OutcomeRecord
			priority, rcpts, subj, msg, meta sql.NullString
			at                               string
		)
		if err := rows.Scan(&r.Seq, &r.MessageID, &r.Kind, &priority, &rcpts, &subj, &r.Attempts, &msg, &meta, &at); err != nil {
			return nil, err
		}
		r.Priority, r.Subject, r.Error = priority.String, subj.String, msg.String
		if rcpts.Valid {
			_ = json.Unmarshal([]byte(rcpts.String), &r.Recipients)
		}
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &r.Metadata)
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneOutcomes(ctx context.Context, keep int) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM outcomes WHERE seq <= (
		   SELECT seq FROM outcomes ORDER BY seq DESC LIMIT 1 OFFSET ?
		 )`, keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) PutDedup(ctx context.Context, e DedupEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(e.Key) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, message_id, until) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET message_id=excluded.message_id, until=excluded.until`,
		e.Key, e.MessageID, e.Until.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadDedup(ctx context.Context, now time.Time) ([]DedupEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until <= ?`, now.UnixMilli()); err != nil {
		s.log.Debug("dedup prune failed", logx.Err(err))
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, message_id, until FROM dedup WHERE until > ?`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DedupEntry
	for rows.Next() {
		var (
			e  DedupEntry
			ms int64
		)
		if err := rows.Scan(&e.Key, &e.MessageID, &ms); err != nil {
			return nil, err
		}
		e.Until = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func jsonOrNull[T any](v T) any {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" || string(b) == "[]" || string(b) == "{}" {
		return nil
	}
	return string(b)
}
