package dispatch

import (
	"container/list"
	"time"
)

type dedupEntry struct {
	key   string
	id    string
	until time.Time
}

// dedupCache remembers caller dedup keys for a window. Oldest entries are
// evicted first once max is reached.
type dedupCache struct {
	window  time.Duration
	max     int
	order   *list.List // of *dedupEntry, oldest first
	entries map[string]*list.Element
}

func newDedupCache(window time.Duration, max int) *dedupCache {
	return &dedupCache{
		window:  window,
		max:     max,
		order:   list.New(),
		entries: map[string]*list.Element{},
	}
}

func (c *dedupCache) configure(window time.Duration, max int) {
	c.window, c.max = window, max
}

// lookup returns the message id recorded for key if it is still live at now.
func (c *dedupCache) lookup(key string, now time.Time) (string, bool) {
	el, ok := c.entries[key]
	if !ok {
		return "", false
	}
	e := el.Value.(*dedupEntry)
	if !e.until.After(now) {
		c.order.Remove(el)
		delete(c.entries, key)
		return "", false
	}
	return e.id, true
}

// remember records key → id and returns the expiry.
func (c *dedupCache) remember(key, id string, now time.Time) time.Time {
	until := now.Add(c.window)
	c.put(key, id, until)
	return until
}

func (c *dedupCache) put(key, id string, until time.Time) {
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
	for c.max > 0 && c.order.Len() >= c.max {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*dedupEntry).key)
	}
	c.entries[key] = c.order.PushBack(&dedupEntry{key: key, id: id, until: until})
}

// prune drops expired entries and reports how many were removed.
func (c *dedupCache) prune(now time.Time) int {
	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*dedupEntry)
		if !e.until.After(now) {
			c.order.Remove(el)
			delete(c.entries, e.key)
			n++
		}
		el = next
	}
	return n
}

func (c *dedupCache) len() int { return c.order.Len() }
