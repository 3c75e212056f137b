package dispatch

import (
	"time"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/eventbus"
)

// Event types published on the bus. Outcome events carry an Outcome.
const (
	EventQueued  = "dispatch.queued"
	EventDeduped = "dispatch.deduped"
	EventSent    = "dispatch.sent"
	EventRetry   = "dispatch.retry"
	EventFailed  = "dispatch.failed"
	EventState   = "dispatch.state"
)

// QueuedEvent is the payload of EventQueued and EventDeduped.
type QueuedEvent struct {
	ID          string    `json:"id"`
	Priority    Priority  `json:"priority,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at,omitzero"`
	DedupKey    string    `json:"dedup_key,omitempty"`
	Deduped     bool      `json:"deduped,omitempty"`
}

// StateEvent is the payload of EventState.
type StateEvent struct {
	State State `json:"state"`
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (s *Service) stateChanged(changed bool, st State) {
	if changed {
		s.publish(EventState, StateEvent{State: st})
	}
}
