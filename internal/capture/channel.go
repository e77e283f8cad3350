package capture

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is the number of drafts the channel holds before it starts
// evicting the oldest.
const DefaultCapacity = 100

var (
	// ErrClosed is returned by Publish after Complete.
	ErrClosed = errors.New("capture: channel completed")
	// ErrDrained is returned by Next once the channel is completed and empty.
	ErrDrained = errors.New("capture: channel drained")
)

// Channel is a bounded single-writer queue of drafts. Publish never blocks:
// when the queue is full the oldest draft is evicted. Next suspends until a
// draft arrives, the channel is completed and drained, or ctx ends.
type Channel struct {
	mu        sync.Mutex
	buf       []*Draft
	head      int
	size      int
	completed bool
	dropped   uint64

	signal chan struct{}
	done   chan struct{}
}

// NewChannel returns a channel holding at most capacity drafts.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		buf:    make([]*Draft, capacity),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Publish enqueues d. If the channel was full the evicted draft is returned.
func (c *Channel) Publish(d *Draft) (*Draft, error) {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	var evicted *Draft
	if c.size == len(c.buf) {
		evicted = c.buf[c.head]
		c.buf[c.head] = nil
		c.head = (c.head + 1) % len(c.buf)
		c.size--
		c.dropped++
	}
	c.buf[(c.head+c.size)%len(c.buf)] = d
	c.size++
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return evicted, nil
}

// Next returns the oldest queued draft.
func (c *Channel) Next(ctx context.Context) (*Draft, error) {
	for {
		c.mu.Lock()
		if c.size > 0 {
			d := c.buf[c.head]
			c.buf[c.head] = nil
			c.head = (c.head + 1) % len(c.buf)
			c.size--
			c.mu.Unlock()
			return d, nil
		}
		completed := c.completed
		c.mu.Unlock()
		if completed {
			return nil, ErrDrained
		}

		select {
		case <-c.signal:
		case <-c.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Complete signals that no further drafts will be published. Queued drafts
// remain available to Next. It is safe to call more than once.
func (c *Channel) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return
	}
	c.completed = true
	close(c.done)
}

// Completed reports whether Complete has been called.
func (c *Channel) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Len returns the number of queued drafts.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Cap returns the channel capacity.
func (c *Channel) Cap() int { return len(c.buf) }

// Dropped returns how many drafts have been evicted so far.
func (c *Channel) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
