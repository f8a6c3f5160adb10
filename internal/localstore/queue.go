package localstore

import (
	"context"
	"sync"
)

// writeQueue serializes writes of one blob. At most one write runs at a
// time and at most one waits behind it; enqueueing while a write waits
// replaces the waiting value, and everyone who queued it gets the
// result of the replacement.
type writeQueue struct {
	write func(ctx context.Context, value string) error

	mu      sync.Mutex
	idle    *sync.Cond
	pending *queuedWrite
	running bool
}

type queuedWrite struct {
	value   string
	waiters []chan error
}

func newWriteQueue(write func(ctx context.Context, value string) error) *writeQueue {
	q := &writeQueue{write: write}
	q.idle = sync.NewCond(&q.mu)
	return q
}

func (q *writeQueue) enqueue(value string) <-chan error {
	done := make(chan error, 1)

	q.mu.Lock()
	if q.pending != nil {
		q.pending.value = value
		q.pending.waiters = append(q.pending.waiters, done)
	} else {
		q.pending = &queuedWrite{value: value, waiters: []chan error{done}}
	}
	if !q.running {
		q.running = true
		go q.drain()
	}
	q.mu.Unlock()

	return done
}

func (q *writeQueue) drain() {
	for {
		q.mu.Lock()
		job := q.pending
		q.pending = nil
		if job == nil {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		err := q.write(context.Background(), job.value)
		for _, w := range job.waiters {
			w <- err
		}
	}
}

// flush blocks until nothing is running or queued.
func (q *writeQueue) flush() {
	q.mu.Lock()
	for q.running {
		q.idle.Wait()
	}
	q.mu.Unlock()
}
