// Package queue implements a bounded-concurrency job queue for discovery
// work (spec §4.4). Grounded on the teacher's internal/operation.Run
// (fire-and-track in a goroutine, report back through a handle) generalised
// from one goroutine per request into a pool bounded by
// golang.org/x/sync/semaphore.Weighted.
package queue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/percyio/percy-core/internal/percy"
)

// Job is a unit of discovery work submitted to the queue.
type Job func(ctx context.Context) ([]percy.Resource, error)

// Handle is returned by Push and resolves once the job has run.
type Handle struct {
	done      chan struct{}
	resources []percy.Resource
	err       error
}

// Wait blocks until the job completes (or ctx is cancelled first) and
// returns its result.
func (h *Handle) Wait(ctx context.Context) ([]percy.Resource, error) {
	select {
	case <-h.done:
		return h.resources, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Queue is a bounded-concurrency job queue. Waiting jobs take slots in the
// order their goroutines reach the semaphore, which is usually but not
// always push order. The zero value is not usable; construct with New.
type Queue struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	inFlight int // pending (waiting for a slot) + active (running)
	idleCh   chan struct{}
	stopped  bool

	stopCtx    context.Context
	stopCancel context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Queue that runs at most concurrency jobs at once.
func New(concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	stopCtx, cancel := context.WithCancel(context.Background())
	idleCh := make(chan struct{})
	close(idleCh) // a freshly-created queue is idle

	return &Queue{
		sem:        semaphore.NewWeighted(int64(concurrency)),
		idleCh:     idleCh,
		stopCtx:    stopCtx,
		stopCancel: cancel,
	}
}

// Push enqueues job, starting it immediately if a concurrency slot is free,
// or leaving it waiting on the semaphore otherwise. It returns a Handle
// rather than blocking.
func (q *Queue) Push(ctx context.Context, job Job) (*Handle, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: queue is stopped", percy.ErrNotRunning)
	}
	q.markBusyLocked()
	q.mu.Unlock()

	h := &Handle{done: make(chan struct{})}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.markDone()

		acquireCtx, cancel := mergeDone(ctx, q.stopCtx)
		defer cancel()

		if err := q.sem.Acquire(acquireCtx, 1); err != nil {
			h.err = err
			close(h.done)
			return
		}
		defer q.sem.Release(1)

		h.resources, h.err = job(ctx)
		close(h.done)
	}()

	return h, nil
}

// Idle blocks until no jobs are pending or active, or ctx is cancelled.
func (q *Queue) Idle(ctx context.Context) error {
	q.mu.Lock()
	ch := q.idleCh
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects further pushes and waits for the queue to drain. When drain
// is false, jobs still waiting for a concurrency slot are cancelled
// immediately; jobs already running are left to finish.
func (q *Queue) Stop(ctx context.Context, drain bool) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.mu.Unlock()

	if !drain {
		q.stopCancel()
	}

	return q.Idle(ctx)
}

func (q *Queue) markBusyLocked() {
	if q.inFlight == 0 {
		q.idleCh = make(chan struct{})
	}
	q.inFlight++
}

func (q *Queue) markDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight--
	if q.inFlight == 0 {
		close(q.idleCh)
	}
}

// mergeDone returns a context cancelled when either a or b is done.
func mergeDone(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := make(chan struct{})
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
