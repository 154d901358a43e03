// Package admission bounds the number of concurrently active pulls. Callers
// beyond the capacity wait in FIFO order.
package admission

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Controller is a counting gate with a fixed capacity.
type Controller struct {
	sem      *semaphore.Weighted
	capacity int
	mu       sync.Mutex
	active   int
	waiting  int
	peak     int
}

// New returns a controller admitting at most 'capacity' holders. A capacity
// less than one is treated as one.
func New(capacity int) *Controller {
	if capacity < 1 {
		capacity = 1
	}
	return &Controller{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire blocks until a slot is free. Waiters are admitted in the order in
// which they called Acquire. There is no timeout: the only way to give up is for
// the passed context to be cancelled, in which case the context error is
// returned and no slot is held.
func (c *Controller) Acquire(ctx context.Context) error {
	c.mu.Lock()
	c.waiting++
	c.mu.Unlock()

	err := c.sem.Acquire(ctx, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiting--
	if err != nil {
		return err
	}
	c.active++
	if c.active > c.peak {
		c.peak = c.active
	}
	return nil
}

// Release frees one slot, admitting the oldest waiter if there is one. Calling
// Release without a matching Acquire is a programming error and panics.
func (c *Controller) Release() {
	c.mu.Lock()
	if c.active == 0 {
		c.mu.Unlock()
		panic("admission: release without a matching acquire")
	}
	c.active--
	c.mu.Unlock()
	c.sem.Release(1)
}

// Capacity returns the configured capacity.
func (c *Controller) Capacity() int {
	return c.capacity
}

// Active returns the number of slots currently held.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Waiting returns the number of callers blocked in Acquire.
func (c *Controller) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting
}

// Peak returns the highest number of slots ever held at once.
func (c *Controller) Peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}
