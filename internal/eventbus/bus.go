// Package eventbus fans dispatch events out to in-process listeners.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/metrics"
)

// Event is one notification. Publishers stamp Type with a dotted
// "component.what" name; Data carries the component's payload.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus never blocks publishers. A subscriber whose buffer is full misses the
// event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

type subscription struct {
	ch     chan Event
	prefix string
}

// MemBus is the in-process Bus.
type MemBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription

	published atomic.Uint64
	dropped   atomic.Uint64
}

func New() *MemBus {
	return &MemBus{subs: make(map[uint64]subscription)}
}

// Publish stamps e.Time when unset and offers e to every matching
// subscriber.
func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)

	// Sends never block, so holding the read lock keeps unsubscribe from
	// closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(e.Type, s.prefix) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			metrics.EventsDropped.Add(1)
		}
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	return b.SubscribePrefix(buffer, "")
}

// SubscribePrefix delivers only events whose Type starts with prefix. The
// channel is closed by the returned unsubscribe func, which may be called
// more than once.
func (b *MemBus) SubscribePrefix(buffer int, prefix string) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{ch: ch, prefix: prefix}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Stats reports published events and subscriber deliveries lost to full
// buffers.
func (b *MemBus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Filtered subscribes to events whose Type starts with prefix. Buses
// without native prefix support are filtered by a forwarding goroutine.
func Filtered(b Bus, buffer int, prefix string) (<-chan Event, func()) {
	if pb, ok := b.(interface {
		SubscribePrefix(int, string) (<-chan Event, func())
	}); ok {
		return pb.SubscribePrefix(buffer, prefix)
	}

	src, unsub := b.Subscribe(buffer)
	out := make(chan Event, cap(src))
	go func() {
		defer close(out)
		for e := range src {
			if strings.HasPrefix(e.Type, prefix) {
				select {
				case out <- e:
				default:
				}
			}
		}
	}()
	return out, unsub
}
