package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
	"go.uber.org/multierr"
)

// fileStore keeps everything in JSON Lines files.
//
// Files:
//   - <prefix>.outcomes.jsonl      (append-only; rewritten by PruneOutcomes)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal, folded into the snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	outcomesPath string
	outcomes     *os.File
	seq          uint64

	dedupSnapshotPath string
	dedupJournal      *os.File
	dedup             map[string]DedupEntry
	dedupWrites       int
}

const (
	dedupCompactEvery = 1000

	// maxLineBytes bounds one JSONL record. Readers skip anything longer.
	maxLineBytes = 1 << 20
	// keptRecipients is how many recipients survive when a record is shrunk.
	keptRecipients = 50
	// keptTextBytes caps Subject and Error when a record is shrunk.
	keptTextBytes = 1024
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		outcomesPath:      prefix + ".outcomes.jsonl",
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
		dedup:             map[string]DedupEntry{},
	}

	// Continue numbering after the newest record; pruning keeps the tail so seq never repeats.
	last, err := tailLines(s.outcomesPath, 1)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if len(last) == 1 {
		var r OutcomeRecord
		if json.Unmarshal(last[0], &r) == nil {
			s.seq = r.Seq
		}
	}

	if s.outcomes, err = os.OpenFile(s.outcomesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		return nil, err
	}

	journalPath := prefix + ".dedup.journal.jsonl"
	if err := s.loadDedupSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("dedup snapshot unreadable; continuing with journal only",
			logx.String("path", s.dedupSnapshotPath), logx.Err(err))
	}
	if err := s.replayDedupJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("dedup journal replay stopped early",
			logx.String("path", journalPath), logx.Err(err))
	}
	s.pruneDedupLocked(time.Now())

	if s.dedupJournal, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600); err != nil {
		_ = s.outcomes.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.outcomes != nil {
		err = multierr.Append(err, s.outcomes.Close())
		s.outcomes = nil
	}
	if s.dedupJournal != nil {
		err = multierr.Append(err, s.dedupJournal.Close())
		s.dedupJournal = nil
	}
	return err
}

func (s *fileStore) AppendOutcome(ctx context.Context, r OutcomeRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomes == nil {
		return errors.New("outcome journal closed")
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.seq++
	r.Seq = s.seq
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if len(line) >= maxLineBytes {
		s.log.Warn("outcome record too large; storing a shrunk copy",
			logx.String("message_id", r.MessageID), logx.Int("bytes", len(line)))
		if line, err = json.Marshal(shrinkOutcome(r)); err != nil {
			return err
		}
		if len(line) >= maxLineBytes {
			s.seq--
			return fmt.Errorf("outcome record for %s exceeds %d bytes", r.MessageID, maxLineBytes)
		}
	}
	_, err = s.outcomes.Write(append(line, '\n'))
	return err
}

// shrinkOutcome drops metadata and trims the variable-length fields of r.
func shrinkOutcome(r OutcomeRecord) OutcomeRecord {
	meta := map[string]string{"truncated": "true"}
	if len(r.Recipients) > keptRecipients {
		meta["recipients_total"] = strconv.Itoa(len(r.Recipients))
		r.Recipients = r.Recipients[:keptRecipients]
	}
	r.Metadata = meta
	r.Subject = truncateText(r.Subject, keptTextBytes)
	r.Error = truncateText(r.Error, keptTextBytes)
	return r
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func (s *fileStore) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	_ = ctx
	limit = clampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := tailLines(s.outcomesPath, limit)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]OutcomeRecord, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		var r OutcomeRecord
		if err := json.Unmarshal(lines[i], &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fileStore) PruneOutcomes(ctx context.Context, keep int) (int, error) {
	_ = ctx
	if keep <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomes == nil {
		return 0, errors.New("outcome journal closed")
	}

	total, err := countLines(s.outcomesPath)
	if err != nil || total <= keep {
		return 0, err
	}
	lines, err := tailLines(s.outcomesPath, keep)
	if err != nil {
		return 0, err
	}

	tmp := s.outcomesPath + ".tmp"
	if err := writeLines(tmp, lines); err != nil {
		return 0, err
	}
	if err := s.outcomes.Close(); err != nil {
		s.log.Debug("close outcome journal before prune failed", logx.Err(err))
	}
	if err := os.Rename(tmp, s.outcomesPath); err != nil {
		s.outcomes, _ = os.OpenFile(s.outcomesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		return 0, err
	}
	if s.outcomes, err = os.OpenFile(s.outcomesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		return 0, err
	}
	return total - len(lines), nil
}

func (s *fileStore) PutDedup(ctx context.Context, e DedupEntry) error {
	_ = ctx
	e.Key = strings.TrimSpace(e.Key)
	if e.Key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournal == nil {
		return errors.New("dedup journal closed")
	}
	s.dedup[e.Key] = e
	if err := json.NewEncoder(s.dedupJournal).Encode(e); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%dedupCompactEvery == 0 {
		if err := s.compactDedupLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LoadDedup(ctx context.Context, now time.Time) ([]DedupEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DedupEntry, 0, len(s.dedup))
	for _, e := range s.dedup {
		if e.Until.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fileStore) compactDedupLocked() error {
	s.pruneDedupLocked(time.Now())

	tmp := s.dedupSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.dedup); err != nil {
		return multierr.Append(err, f.Close())
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupSnapshotPath); err != nil {
		return err
	}
	if err := s.dedupJournal.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadDedupSnapshot() error {
	f, err := os.Open(s.dedupSnapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]DedupEntry
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		s.dedup[k] = v
	}
	return nil
}

func (s *fileStore) replayDedupJournal(path string) error {
	return scanLines(path, func(line []byte) {
		var e DedupEntry
		if err := json.Unmarshal(line, &e); err != nil || e.Key == "" {
			return
		}
		s.dedup[e.Key] = e
	})
}

func (s *fileStore) pruneDedupLocked(now time.Time) {
	for k, e := range s.dedup {
		if !e.Until.After(now) {
			delete(s.dedup, k)
		}
	}
}

// scanLines calls fn for every non-empty line of path. Lines of maxLineBytes
// or more are skipped.
func scanLines(path string, fn func([]byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	var buf []byte
	skipping := false
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !skipping {
			buf = append(buf, chunk...)
			if len(buf) >= maxLineBytes {
				skipping, buf = true, buf[:0]
			}
		}
		if isPrefix {
			continue
		}
		if !skipping && len(buf) > 0 {
			fn(buf)
		}
		skipping, buf = false, buf[:0]
	}
}

func countLines(path string) (int, error) {
	n := 0
	err := scanLines(path, func([]byte) { n++ })
	return n, err
}

// tailLines returns the last n non-empty lines of path, oldest first.
func tailLines(path string, n int) ([][]byte, error) {
	ring := make([][]byte, 0, n)
	err := scanLines(path, func(b []byte) {
		line := append([]byte(nil), b...)
		if len(ring) == n {
			copy(ring, ring[1:])
			ring[n-1] = line
			return
		}
		ring = append(ring, line)
	})
	return ring, err
}

func writeLines(path string, lines [][]byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		_, _ = w.Write(l)
		_ = w.WriteByte('\n')
	}
	return multierr.Append(w.Flush(), f.Close())
}
