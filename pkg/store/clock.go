package store

import (
	"sync"
	"time"
)

// stampClock hands out strictly increasing UTC timestamps at the
// microsecond precision Postgres stores.
type stampClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newStampClock() *stampClock {
	return &stampClock{now: time.Now}
}

func (c *stampClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
