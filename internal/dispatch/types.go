package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
)

// Priority orders delivery attempts. Lower values are attempted first.
// The zero value means "unset" and resolves to PriorityMedium at enqueue.
type Priority int

const (
	PriorityHigh Priority = iota + 1
	PriorityMedium
	PriorityLow
)

const numTiers = 3

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) valid() bool { return p >= PriorityHigh && p <= PriorityLow }

// tier is the scheduler list index (0 = high).
func (p Priority) tier() int { return int(p) - 1 }

// ParsePriority accepts "high", "medium" (or "normal") and "low". Empty input
// yields PriorityMedium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "", "medium", "normal":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("%w: unknown priority %q", ErrInvalidOptions, s)
	}
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Message is one queued delivery. It is owned by the Service once enqueued;
// callers only ever see copies.
type Message struct {
	ID          string
	Payload     transport.Payload
	Priority    Priority
	ScheduledAt time.Time
	EnqueuedAt  time.Time
	Attempts    int
	MaxAttempts int
	Metadata    map[string]string
	LastError   string

	seq      uint64
	dedupKey string
}

// Options tune a single enqueue.
type Options struct {
	Priority Priority
	// ScheduledAt is the earliest attempt time. Zero means now; a time in the
	// past is eligible immediately.
	ScheduledAt time.Time
	// MaxAttempts <= 0 uses the configured default.
	MaxAttempts int
	Metadata    map[string]string
	// DedupKey makes repeated enqueues within the dedup window return the
	// first message's id instead of queueing a duplicate.
	DedupKey string
}

// Request is one entry of EnqueueBulk.
type Request struct {
	Payload transport.Payload
	Options Options
}

// State describes what the worker loop is doing.
type State string

const (
	StateStopped   State = "stopped"
	StateIdle      State = "idle"
	StateDraining  State = "draining"
	StateThrottled State = "throttled"
)

// OutcomeKind classifies the result of one delivery attempt.
type OutcomeKind string

const (
	OutcomeSent   OutcomeKind = "sent"
	OutcomeRetry  OutcomeKind = "retry"
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the structured result of a single delivery attempt.
type Outcome struct {
	Kind        OutcomeKind       `json:"kind"`
	MessageID   string            `json:"message_id"`
	Priority    Priority          `json:"priority"`
	Recipients  []string          `json:"recipients"`
	Subject     string            `json:"subject"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	Error       string            `json:"error,omitempty"`
	Permanent   bool              `json:"permanent,omitempty"` // transport rejected the message outright
	NextAttempt time.Time         `json:"next_attempt,omitzero"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	At          time.Time         `json:"at"`
}

// Totals are monotonically increasing counters since process start.
type Totals struct {
	Enqueued uint64 `json:"enqueued"`
	Deduped  uint64 `json:"deduped"`
	Sent     uint64 `json:"sent"`
	Retried  uint64 `json:"retried"`
	Failed   uint64 `json:"failed"`
}

// Snapshot is a point-in-time view of the queue.
type Snapshot struct {
	// QueueLength counts every message still owned by the queue (pending + in flight).
	QueueLength        int       `json:"queue_length"`
	Pending            int       `json:"pending"`
	InFlight           int       `json:"in_flight"`
	Processing         bool      `json:"processing"`
	State              State     `json:"state"`
	SentThisWindow     int       `json:"sent_this_window"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	WindowResetsInMS   int64     `json:"window_resets_in_ms"`
	NextWake           time.Time `json:"next_wake,omitzero"`
	Totals             Totals    `json:"totals"`
	RecentFailures     []Outcome `json:"recent_failures,omitempty"`
}

// PendingItem is the read-only preview returned by ListPending.
type PendingItem struct {
	ID          string            `json:"id"`
	Recipients  []string          `json:"recipients"`
	Subject     string            `json:"subject"`
	Priority    Priority          `json:"priority"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	InFlight    bool              `json:"in_flight,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (m *Message) pendingItem(inFlight bool) PendingItem {
	return PendingItem{
		ID:          m.ID,
		Recipients:  m.Payload.Recipients(),
		Subject:     m.Payload.Subject,
		Priority:    m.Priority,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		ScheduledAt: m.ScheduledAt,
		InFlight:    inFlight,
		LastError:   m.LastError,
		Metadata:    cloneMeta(m.Metadata),
	}
}

func cloneMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
