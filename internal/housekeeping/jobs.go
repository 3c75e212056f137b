package housekeeping

import (
	"context"
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/dispatch"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/storage"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

const (
	JobStatusLog  = "status_log"
	JobDedupPrune = "dedup_prune"
	JobJournalGC  = "journal_gc"
	JobWatchdog   = "watchdog"
)

// Snapshotter is the part of the dispatch service the status job reads.
type Snapshotter interface {
	Snapshot() dispatch.Snapshot
}

// DedupPruner drops expired dedup keys.
type DedupPruner interface {
	PruneDedup() int
}

// StatusLogJob logs one line summarizing the queue.
func StatusLogJob(schedule string, src Snapshotter, log logx.Logger) Job {
	return Job{
		Name:     JobStatusLog,
		Schedule: schedule,
		Run: func(context.Context) error {
			snap := src.Snapshot()
			log.Info("dispatch status",
				logx.String("state", string(snap.State)),
				logx.Int("queue_length", snap.QueueLength),
				logx.Int("in_flight", snap.InFlight),
				logx.Int("sent_this_window", snap.SentThisWindow),
				logx.Int("rate_limit_per_minute", snap.RateLimitPerMinute),
				logx.Uint64("sent_total", snap.Totals.Sent),
				logx.Uint64("failed_total", snap.Totals.Failed),
			)
			return nil
		},
	}
}

// DedupPruneJob drops expired dedup keys from memory.
func DedupPruneJob(schedule string, p DedupPruner, log logx.Logger) Job {
	return Job{
		Name:     JobDedupPrune,
		Schedule: schedule,
		Run: func(context.Context) error {
			if n := p.PruneDedup(); n > 0 {
				log.Debug("dedup keys pruned", logx.Int("count", n))
			}
			return nil
		},
	}
}

// JournalGCJob trims the outcome journal to its newest keep records.
func JournalGCJob(schedule string, store storage.Store, keep int, log logx.Logger) Job {
	return Job{
		Name:     JobJournalGC,
		Schedule: schedule,
		Timeout:  2 * time.Minute,
		Run: func(ctx context.Context) error {
			if store == nil || keep <= 0 {
				return nil
			}
			n, err := store.PruneOutcomes(ctx, keep)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("outcome journal pruned", logx.Int("removed", n), logx.Int("kept", keep))
			}
			return nil
		},
	}
}

// sdNotify is swapped in tests.
var sdNotify = daemon.SdNotify

// WatchdogJob pings the systemd watchdog. It is a no-op outside systemd.
func WatchdogJob(schedule string) Job {
	return Job{
		Name:     JobWatchdog,
		Schedule: schedule,
		Timeout:  5 * time.Second,
		Run: func(context.Context) error {
			_, err := sdNotify(false, daemon.SdNotifyWatchdog)
			return err
		},
	}
}

// WatchdogSchedule derives a ping schedule from WATCHDOG_USEC: half the
// configured interval. It returns "" when the watchdog is not enabled.
func WatchdogSchedule() (string, error) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return "", err
	}
	if d <= 0 {
		return "", nil
	}
	half := d / 2
	if half < time.Second {
		return "", errors.New("watchdog interval too short")
	}
	return "@every " + half.Truncate(time.Second).String(), nil
}
