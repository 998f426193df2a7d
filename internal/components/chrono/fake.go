package chrono

import (
	"sort"
	"sync"
	"time"
)

type fakeWaiter struct {
	id       uint64
	deadline time.Time
	ch       chan time.Time
	fn       func()
	stopped  bool
}

// FakeClock is a Clock whose time only moves when Advance is called.
type FakeClock struct {
	mutex   sync.Mutex
	cond    *sync.Cond
	now     time.Time
	nextID  uint64
	waiters []*fakeWaiter
}

func NewFakeClock(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.cond = sync.NewCond(&c.mutex)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *FakeClock) add(d time.Duration, w *fakeWaiter) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.nextID++
	w.id = c.nextID
	w.deadline = c.now.Add(d)
	c.waiters = append(c.waiters, w)
	c.cond.Broadcast()
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	w := &fakeWaiter{ch: make(chan time.Time, 1)}
	if d <= 0 {
		w.ch <- c.Now()
		return w.ch
	}
	c.add(d, w)
	return w.ch
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	w := &fakeWaiter{fn: f}
	c.add(d, w)
	if d <= 0 {
		c.Advance(0)
	}
	return fakeTimer{clock: c, waiter: w}
}

// Advance moves the clock forward and fires every waiter whose deadline
// has passed, in deadline order. AfterFunc callbacks run synchronously.
func (c *FakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	c.now = c.now.Add(d)
	now := c.now

	var due []*fakeWaiter
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if !w.deadline.After(now) {
			due = append(due, w)
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
	c.cond.Broadcast()
	c.mutex.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, w := range due {
		if w.fn != nil {
			w.fn()
			continue
		}
		w.ch <- now
	}
}

// Waiters returns the number of pending sleeps and timers.
func (c *FakeClock) Waiters() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

// BlockUntil blocks until at least n sleeps or timers are pending.
func (c *FakeClock) BlockUntil(n int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for c.pendingLocked() < n {
		c.cond.Wait()
	}
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t fakeTimer) Stop() bool {
	c := t.clock
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for i, w := range c.waiters {
		if w == t.waiter {
			if w.stopped {
				return false
			}
			w.stopped = true
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			c.cond.Broadcast()
			return true
		}
	}
	return false
}
