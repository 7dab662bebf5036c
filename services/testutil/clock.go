package testutil

import (
	"sync"
	"time"
)

// Clock is a manually driven time source for services that take a now func.
// With a non-zero step every Now call advances it, so successive rows never
// share a timestamp.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func NewTickingClock(start time.Time, step time.Duration) *Clock {
	return &Clock{now: start, step: step}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
