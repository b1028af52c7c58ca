// Package dispatch serializes tool invocations against the shared model.
// Every call runs on a single worker goroutine, so overlapping fix/unfix or
// snapshot/restore sequences can never interleave, including during an
// unbounded solver call. There are no retries and no timeouts; a failure is
// surfaced once, synchronously, to the caller.
package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Do after the queue has been closed or its context
// cancelled.
var ErrClosed = errors.New("dispatch: queue closed")

type job struct {
	fn   func()
	done chan struct{}
}

// Queue runs submitted functions one at a time, in submission order.
type Queue struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	jobs   chan job

	mu     sync.Mutex
	closed bool
}

// New starts the worker and returns the queue. Cancelling ctx stops the
// worker after the in-flight job finishes.
func New(ctx context.Context) *Queue {
	ctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			j.fn()
			close(j.done)
		}
	}
}

// Do runs fn on the worker and blocks until it has finished. Returns
// ErrClosed without running fn if the queue is shut down.
func (q *Queue) Do(fn func()) error {
	j := job{fn: fn, done: make(chan struct{})}
	select {
	case <-q.ctx.Done():
		return ErrClosed
	case q.jobs <- j:
	}
	select {
	case <-j.done:
		return nil
	case <-q.ctx.Done():
		// the worker may already have picked the job up; wait it out so the
		// caller never races a half-applied mutation
		<-j.done
		return nil
	}
}

// Close stops accepting work and waits for the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}
