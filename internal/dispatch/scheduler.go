package dispatch

import (
	"container/list"
	"time"
)

// scheduler holds pending messages in one FIFO list per priority tier plus
// the set of messages reserved for an in-flight attempt.
//
// Order is (tier, insertion sequence). A message is in exactly one place:
// a tier list (tracked by index) or the inflight set.
//
// Not safe for concurrent use; the Service lock guards it.
type scheduler struct {
	tiers    [numTiers]*list.List
	index    map[string]*list.Element
	inflight map[string]*Message
	seq      uint64
}

func newScheduler() *scheduler {
	s := &scheduler{
		index:    map[string]*list.Element{},
		inflight: map[string]*Message{},
	}
	for i := range s.tiers {
		s.tiers[i] = list.New()
	}
	return s
}

// Insert appends m to the back of its tier with a fresh insertion sequence.
// Re-inserting a reserved message releases the reservation.
func (s *scheduler) Insert(m *Message) {
	if el, ok := s.index[m.ID]; ok {
		s.tiers[el.Value.(*Message).Priority.tier()].Remove(el)
	}
	delete(s.inflight, m.ID)

	s.seq++
	m.seq = s.seq
	s.index[m.ID] = s.tiers[m.Priority.tier()].PushBack(m)
}

// Requeue returns a reserved message to its tier without consuming a new
// sequence, so it goes back ahead of every peer inserted after it.
func (s *scheduler) Requeue(m *Message) {
	if m.seq == 0 {
		s.Insert(m)
		return
	}
	if el, ok := s.index[m.ID]; ok {
		s.tiers[el.Value.(*Message).Priority.tier()].Remove(el)
	}
	delete(s.inflight, m.ID)

	tier := s.tiers[m.Priority.tier()]
	for el := tier.Front(); el != nil; el = el.Next() {
		if el.Value.(*Message).seq > m.seq {
			s.index[m.ID] = tier.InsertBefore(m, el)
			return
		}
	}
	s.index[m.ID] = tier.PushBack(m)
}

// NextEligible reserves and returns the first message, in priority then FIFO
// order, whose ScheduledAt is not after now. Messages scheduled in the future
// are skipped rather than blocking what follows them.
func (s *scheduler) NextEligible(now time.Time) (*Message, bool) {
	for _, tier := range s.tiers {
		for el := tier.Front(); el != nil; el = el.Next() {
			m := el.Value.(*Message)
			if m.ScheduledAt.After(now) {
				continue
			}
			tier.Remove(el)
			delete(s.index, m.ID)
			s.inflight[m.ID] = m
			return m, true
		}
	}
	return nil, false
}

// HasEligible reports whether NextEligible(now) would return a message.
func (s *scheduler) HasEligible(now time.Time) bool {
	for _, tier := range s.tiers {
		for el := tier.Front(); el != nil; el = el.Next() {
			if !el.Value.(*Message).ScheduledAt.After(now) {
				return true
			}
		}
	}
	return false
}

// NextWake returns the earliest ScheduledAt among pending messages.
func (s *scheduler) NextWake() (time.Time, bool) {
	var (
		earliest time.Time
		found    bool
	)
	for _, tier := range s.tiers {
		for el := tier.Front(); el != nil; el = el.Next() {
			at := el.Value.(*Message).ScheduledAt
			if !found || at.Before(earliest) {
				earliest, found = at, true
			}
		}
	}
	return earliest, found
}

// Remove deletes id whether pending or reserved. Unknown ids are a no-op.
func (s *scheduler) Remove(id string) bool {
	if el, ok := s.index[id]; ok {
		s.tiers[el.Value.(*Message).Priority.tier()].Remove(el)
		delete(s.index, id)
		return true
	}
	if _, ok := s.inflight[id]; ok {
		delete(s.inflight, id)
		return true
	}
	return false
}

// Len is the number of pending (not reserved) messages.
func (s *scheduler) Len() int { return len(s.index) }

// InFlight is the number of reserved messages.
func (s *scheduler) InFlight() int { return len(s.inflight) }

// Pending returns up to limit messages: reserved ones first, then pending in
// dispatch order (ignoring ScheduledAt). limit <= 0 means all.
func (s *scheduler) Pending(limit int) []PendingItem {
	total := s.Len() + s.InFlight()
	if limit <= 0 || limit > total {
		limit = total
	}
	out := make([]PendingItem, 0, limit)
	for _, m := range s.inflight {
		if len(out) == limit {
			return out
		}
		out = append(out, m.pendingItem(true))
	}
	for _, tier := range s.tiers {
		for el := tier.Front(); el != nil; el = el.Next() {
			if len(out) == limit {
				return out
			}
			out = append(out, el.Value.(*Message).pendingItem(false))
		}
	}
	return out
}
