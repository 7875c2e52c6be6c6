package clock

import (
	"fmt"
	"sync"
	"time"
)

// Step is the granularity virtual time moves in. Every advance lands on a
// whole step and subscribers see each intermediate step exactly once.
const Step = time.Minute

// Clock is the simulation's only source of time. Nothing in the emulator
// reads the wall clock, which keeps runs reproducible.
type Clock struct {
	mu          sync.Mutex
	now         time.Time
	subscribers []func(old, new time.Time)
}

func New(start time.Time) *Clock {
	return &Clock{now: start.Truncate(Step)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set jumps directly to t without notifying subscribers. Moving backwards
// is refused, history has already been acted on.
func (c *Clock) Set(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t = t.Truncate(Step)
	if t.Before(c.now) {
		return fmt.Errorf("cannot set time to %s, already at %s", t, c.now)
	}
	c.now = t
	return nil
}

// Advance moves forward by d one step at a time, invoking every subscriber
// at each step. Subscribers run outside the clock lock so they may call
// Now without deadlocking.
func (c *Clock) Advance(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("cannot advance by negative duration %s", d)
	}
	steps := int(d / Step)
	for i := 0; i < steps; i++ {
		c.mu.Lock()
		old := c.now
		c.now = c.now.Add(Step)
		now := c.now
		subscribers := make([]func(old, new time.Time), len(c.subscribers))
		copy(subscribers, c.subscribers)
		c.mu.Unlock()

		for _, fn := range subscribers {
			fn(old, now)
		}
	}
	return nil
}

// Subscribe registers fn to run on every step of every Advance.
// Subscriptions cannot be removed, the set is fixed at wiring time.
func (c *Clock) Subscribe(fn func(old, new time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}
