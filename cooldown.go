package ride

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// cooldownTable maps identities to the last time an action was taken.
// Every method locks the table, so a check-and-set through try is atomic per key.
type cooldownTable struct {
	mu   sync.Mutex
	last map[uuid.UUID]time.Time
}

func newCooldownTable() *cooldownTable {
	return &cooldownTable{last: make(map[uuid.UUID]time.Time)}
}

// try records now for key and returns true if no entry exists or the last
// entry is at least window old. Otherwise the entry is left untouched.
func (c *cooldownTable) try(key uuid.UUID, now time.Time, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[key]; ok && now.Sub(last) < window {
		return false
	}
	c.last[key] = now
	return true
}

func (c *cooldownTable) mark(key uuid.UUID, now time.Time) {
	c.mu.Lock()
	c.last[key] = now
	c.mu.Unlock()
}

// take removes key and reports whether it was present.
func (c *cooldownTable) take(key uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.last[key]
	delete(c.last, key)
	return ok
}

func (c *cooldownTable) has(key uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.last[key]
	return ok
}

func (c *cooldownTable) forget(key uuid.UUID) {
	c.mu.Lock()
	delete(c.last, key)
	c.mu.Unlock()
}

// purge removes entries strictly older than maxAge and returns how many were removed.
func (c *cooldownTable) purge(now time.Time, maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, last := range c.last {
		if now.Sub(last) > maxAge {
			delete(c.last, key)
			n++
		}
	}
	return n
}

func (c *cooldownTable) keys() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]uuid.UUID, 0, len(c.last))
	for key := range c.last {
		keys = append(keys, key)
	}
	return keys
}

func (c *cooldownTable) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}

func (c *cooldownTable) clear() {
	c.mu.Lock()
	clear(c.last)
	c.mu.Unlock()
}
