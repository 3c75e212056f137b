package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
	"go.etcd.io/bbolt"
)

var (
	// outcomesBucketKey holds OutcomeRecord JSON keyed by sequence number,
	// encoded as 8-byte big-endian so cursor order is insertion order.
	outcomesBucketKey = []byte("outcomes")

	// dedupBucketKey holds DedupEntry JSON keyed by the caller's dedup key.
	dedupBucketKey = []byte("dedup")
)

type boltStore struct {
	db  *bbolt.DB
	log logx.Logger
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, k := range [][]byte{outcomesBucketKey, dedupBucketKey} {
			if _, err := tx.CreateBucketIfNotExists(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *boltStore) AppendOutcome(ctx context.Context, r OutcomeRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(outcomesBucketKey)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		r.Seq = seq
		v, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(marshalUint64(seq), v)
	})
}

func (s *boltStore) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	var out []OutcomeRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(outcomesBucketKey).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var r OutcomeRecord
			if err := json.Unmarshal(v, &r); err != nil {
				s.log.Debug("skipping undecodable outcome", logx.Uint64("seq", unmarshalUint64(k)), logx.Err(err))
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (s *boltStore) PruneOutcomes(ctx context.Context, keep int) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if keep <= 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(outcomesBucketKey)
		excess := b.Stats().KeyN - keep
		if excess <= 0 {
			return nil
		}
		// Collect first: deleting through a cursor while advancing it skips keys.
		keys := make([][]byte, 0, excess)
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(keys) < excess; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *boltStore) PutDedup(ctx context.Context, e DedupEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(e.Key) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(dedupBucketKey).Put([]byte(e.Key), v)
	})
}

func (s *boltStore) LoadDedup(ctx context.Context, now time.Time) ([]DedupEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []DedupEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(dedupBucketKey)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var e DedupEntry
			if json.Unmarshal(v, &e) != nil || !e.Until.After(now) {
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			out = append(out, e)
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func marshalUint64(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

func unmarshalUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
