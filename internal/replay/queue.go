package replay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polysync/rnr/internal/msgtype"
)

// Queue is a FIFO of replayed messages between the scheduler and one
// consumer. A bounded queue blocks Push at capacity; it never drops.
type Queue struct {
	mu       sync.Mutex
	items    []msgtype.Message
	capacity int
	closed   bool
	// changed is closed and replaced on every state change
	changed chan struct{}
	owned   atomic.Bool
}

// NewQueue creates a queue; capacity <= 0 makes it unbounded
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// Capacity returns the bound, 0 for unbounded
func (q *Queue) Capacity() int {
	return q.capacity
}

// Len returns the number of queued messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// broadcastLocked wakes every waiter
func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Push appends m, blocking while the queue is full
func (q *Queue) Push(ctx context.Context, m msgtype.Message) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return QueueClosedError{}
		}
		if q.capacity == 0 || len(q.items) < q.capacity {
			q.items = append(q.items, m)
			q.broadcastLocked()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// popLocked removes the head; the caller checked len > 0
func (q *Queue) popLocked() msgtype.Message {
	m := q.items[0]
	q.items[0] = msgtype.Message{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	q.broadcastLocked()
	return m
}

func (q *Queue) tryPop() (msgtype.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return msgtype.Message{}, false
	}
	return q.popLocked(), true
}

func (q *Queue) pop(ctx context.Context) (msgtype.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.popLocked()
			q.mu.Unlock()
			return m, nil
		}
		if q.closed {
			q.mu.Unlock()
			return msgtype.Message{}, QueueClosedError{}
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return msgtype.Message{}, ctx.Err()
		case <-wait:
		}
	}
}

// Close rejects further pushes; queued messages stay poppable
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

// Drain discards every queued message and returns how many were dropped
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n > 0 {
		q.items = nil
		q.broadcastLocked()
	}
	return n
}

// Consumer hands out the single consumer handle
func (q *Queue) Consumer() (*QueueConsumer, error) {
	if !q.owned.CompareAndSwap(false, true) {
		return nil, QueueOwnedError{}
	}
	return &QueueConsumer{q: q}, nil
}

// QueueConsumer is the only way to pop from a Queue
type QueueConsumer struct {
	q        *Queue
	released atomic.Bool
}

// TryPop returns the head without waiting; ok is false when empty
func (c *QueueConsumer) TryPop() (msgtype.Message, bool) {
	return c.q.tryPop()
}

// PopTimeout waits up to d for a message; ok is false on timeout or when the
// queue is closed and empty. d <= 0 behaves like TryPop.
func (c *QueueConsumer) PopTimeout(d time.Duration) (msgtype.Message, bool) {
	if d <= 0 {
		return c.q.tryPop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	m, err := c.q.pop(ctx)
	return m, err == nil
}

// Pop waits for a message until ctx is done or the queue is closed and empty
func (c *QueueConsumer) Pop(ctx context.Context) (msgtype.Message, error) {
	return c.q.pop(ctx)
}

// Len returns the number of queued messages
func (c *QueueConsumer) Len() int {
	return c.q.Len()
}

// Release gives up ownership so another consumer can be taken
func (c *QueueConsumer) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.q.owned.Store(false)
	}
}
