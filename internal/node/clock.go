package node

import (
	"sync"
	"time"
)

// clock hands out strictly increasing microsecond timestamps.
type clock struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

func newClock() *clock { return &clock{now: time.Now} }

// Now returns the current time in microseconds, bumped past the last value
// handed out.
func (c *clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := uint64(c.now().UnixMicro())
	if t <= c.last {
		t = c.last + 1
	}
	c.last = t
	return t
}

// Observe moves the clock past ts so later local writes sort after it.
func (c *clock) Observe(ts uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.last {
		c.last = ts
	}
}
