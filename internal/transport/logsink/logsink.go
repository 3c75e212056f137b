package logsink

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

// Transport is a dry-run sink: every message is logged instead of delivered.
//
// FailEvery > 0 makes every n-th attempt fail with a transient error, which
// exercises the retry path against a live daemon.
type Transport struct {
	log       logx.Logger
	failEvery uint64
	calls     atomic.Uint64
}

func New(failEvery int, log logx.Logger) *Transport {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Transport{log: log, failEvery: uint64(max(failEvery, 0))}
}

func (t *Transport) Name() string { return "log" }

func (t *Transport) Send(ctx context.Context, p transport.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := t.calls.Add(1)
	if t.failEvery > 0 && n%t.failEvery == 0 {
		return fmt.Errorf("logsink: simulated failure on attempt %d", n)
	}
	t.log.Info("dry-run delivery",
		logx.Recipients("to", p.Recipients()),
		logx.String("subject", p.Subject),
		logx.Int("text_bytes", len(p.Text)),
		logx.Int("html_bytes", len(p.HTML)),
	)
	return nil
}
