package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
	"github.com/google/go-cmp/cmp"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for driver, file := range map[string]string{
		"file":   "journal.jsonl",
		"sqlite": "journal.db",
		"bolt":   "journal.bolt",
	} {
		st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, driver, file)}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestOutcomeJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for driver, st := range openDrivers(t) {
		driver, st := driver, st
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			for i := 1; i <= 5; i++ {
				err := st.AppendOutcome(ctx, OutcomeRecord{
					MessageID:  fmt.Sprintf("m%d", i),
					Kind:       "sent",
					Priority:   "high",
					Recipients: []string{"a@example.com"},
					Subject:    "Weekly sync notes",
					Attempts:   1,
					Metadata:   map[string]string{"meeting": "42"},
					At:         at.Add(time.Duration(i) * time.Second),
				})
				if err != nil {
					t.Fatalf("AppendOutcome: %v", err)
				}
			}

			got, err := st.RecentOutcomes(ctx, 3)
			if err != nil {
				t.Fatalf("RecentOutcomes: %v", err)
			}
			var ids []string
			for _, r := range got {
				ids = append(ids, r.MessageID)
			}
			if diff := cmp.Diff([]string{"m5", "m4", "m3"}, ids); diff != "" {
				t.Fatalf("recent ids (-want +got):\n%s", diff)
			}
			if got[0].Metadata["meeting"] != "42" || got[0].Recipients[0] != "a@example.com" {
				t.Fatalf("fields not round-tripped: %+v", got[0])
			}
			if !got[0].At.Equal(at.Add(5 * time.Second)) {
				t.Fatalf("at = %v", got[0].At)
			}

			removed, err := st.PruneOutcomes(ctx, 2)
			if err != nil {
				t.Fatalf("PruneOutcomes: %v", err)
			}
			if removed != 3 {
				t.Fatalf("removed = %d, want 3", removed)
			}
			got, _ = st.RecentOutcomes(ctx, 10)
			if len(got) != 2 || got[0].MessageID != "m5" || got[1].MessageID != "m4" {
				t.Fatalf("after prune: %+v", got)
			}
		})
	}
}

func TestDedupEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()

	for driver, st := range openDrivers(t) {
		driver, st := driver, st
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			must := func(err error) {
				t.Helper()
				if err != nil {
					t.Fatal(err)
				}
			}
			must(st.PutDedup(ctx, DedupEntry{Key: "live", MessageID: "m1", Until: now.Add(time.Minute)}))
			must(st.PutDedup(ctx, DedupEntry{Key: "stale", MessageID: "m2", Until: now.Add(-time.Minute)}))
			must(st.PutDedup(ctx, DedupEntry{Key: "", MessageID: "ignored", Until: now.Add(time.Minute)}))

			got, err := st.LoadDedup(ctx, now)
			must(err)
			if len(got) != 1 || got[0].Key != "live" || got[0].MessageID != "m1" {
				t.Fatalf("LoadDedup = %+v", got)
			}
		})
	}
}

func TestFileStoreReopenContinuesSequence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = st.AppendOutcome(ctx, OutcomeRecord{MessageID: "a", Kind: "sent"})
	_ = st.AppendOutcome(ctx, OutcomeRecord{MessageID: "b", Kind: "failed"})
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	_ = st.AppendOutcome(ctx, OutcomeRecord{MessageID: "c", Kind: "sent"})

	got, _ := st.RecentOutcomes(ctx, 1)
	if len(got) != 1 || got[0].Seq != 3 {
		t.Fatalf("got %+v, want seq 3", got)
	}
}

func TestFileStoreCorruptSnapshotKeepsJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	if err := os.WriteFile(filepath.Join(dir, "journal.dedup.snapshot.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	journal := fmt.Sprintf("{\"key\":\"k1\",\"message_id\":\"m1\",\"until\":%q}\n", until.Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(dir, "journal.dedup.journal.jsonl"), []byte(journal), 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "journal.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open with corrupt snapshot: %v", err)
	}
	defer st.Close()

	got, err := st.LoadDedup(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	want := []DedupEntry{{Key: "k1", MessageID: "m1", Until: until}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("restored entries (-want +got):\n%s", diff)
	}
}

func TestFileStoreShrinksOversizedOutcome(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "journal.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	rcpts := make([]string, 5000)
	for i := range rcpts {
		rcpts[i] = fmt.Sprintf("attendee-%04d@example.com", i)
	}
	big := OutcomeRecord{
		MessageID:  "huge",
		Kind:       "failed",
		Recipients: rcpts,
		Error:      strings.Repeat("x", 4096),
		Metadata:   map[string]string{"blob": strings.Repeat("y", 2<<20)},
	}
	for _, r := range []OutcomeRecord{{MessageID: "before", Kind: "sent"}, big, {MessageID: "after", Kind: "sent"}} {
		if err := st.AppendOutcome(ctx, r); err != nil {
			t.Fatalf("AppendOutcome(%s): %v", r.MessageID, err)
		}
	}

	got, err := st.RecentOutcomes(ctx, 10)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(got) != 3 || got[1].MessageID != "huge" {
		t.Fatalf("got %d records: %+v", len(got), got)
	}
	h := got[1]
	if len(h.Recipients) != keptRecipients || h.Metadata["recipients_total"] != "5000" || h.Metadata["truncated"] != "true" {
		t.Fatalf("shrunk record = recipients %d, metadata %v", len(h.Recipients), h.Metadata)
	}
	if len(h.Error) != keptTextBytes {
		t.Fatalf("error length = %d", len(h.Error))
	}

	removed, err := st.PruneOutcomes(ctx, 1)
	if err != nil || removed != 2 {
		t.Fatalf("PruneOutcomes = (%d, %v), want (2, nil)", removed, err)
	}
}

func TestFileStoreSkipsOverlongLines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	raw := "{\"seq\":1,\"message_id\":\"a\",\"kind\":\"sent\"}\n" +
		"{\"seq\":2,\"message_id\":\"b\",\"subject\":\"" + strings.Repeat("z", maxLineBytes) + "\"}\n" +
		"{\"seq\":3,\"message_id\":\"c\",\"kind\":\"sent\"}\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "journal.outcomes.jsonl"), []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	got, err := st.RecentOutcomes(ctx, 10)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.MessageID)
	}
	if diff := cmp.Diff([]string{"c", "a"}, ids); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
	if err := st.AppendOutcome(ctx, OutcomeRecord{MessageID: "d", Kind: "sent"}); err != nil {
		t.Fatal(err)
	}
	got, _ = st.RecentOutcomes(ctx, 1)
	if len(got) != 1 || got[0].Seq != 4 {
		t.Fatalf("next seq = %+v, want 4", got)
	}
}
