package logsink

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

func TestSendLogs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	tr := New(0, logx.NewJSON(&buf, "info"))

	if err := tr.Send(context.Background(), transport.Payload{To: []string{"a@b.test"}, Subject: "weekly digest"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "dry-run delivery") || !strings.Contains(out, "weekly digest") {
		t.Fatalf("log output = %q", out)
	}
}

func TestSendFailEvery(t *testing.T) {
	t.Parallel()
	tr := New(3, logx.Nop())
	var failures []int
	for i := 1; i <= 7; i++ {
		if err := tr.Send(context.Background(), transport.Payload{To: []string{"a@b.test"}, Subject: "s"}); err != nil {
			if transport.IsNoRetry(err) {
				t.Fatal("simulated failure must be transient")
			}
			failures = append(failures, i)
		}
	}
	if len(failures) != 2 || failures[0] != 3 || failures[1] != 6 {
		t.Fatalf("failures at %v, want [3 6]", failures)
	}
}

func TestSendCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(0, logx.Nop()).Send(ctx, transport.Payload{}); err == nil {
		t.Fatal("expected context error")
	}
}
