// Package workqueue implements a small bounded worker pool shared by the
// decode and encode pipelines. Jobs are submitted with Submit and results
// come back on a per-queue results channel; a full queue rejects new work
// instead of blocking the submitter, mirroring the non-blocking channel
// sends used elsewhere in the engine for backpressure.
package workqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Job is one unit of work. Run is invoked on a worker goroutine; ctx is
// cancelled if the queue is stopped while the job is in flight.
type Job[T any] struct {
	ID  string
	Run func(ctx context.Context) T
}

// Queue is a fixed-size pool of workers draining a bounded job channel.
type Queue[T any] struct {
	jobs    chan Job[T]
	results chan T
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	ctx     context.Context

	mu     sync.Mutex
	closed bool
}

// New starts a Queue with the given worker count and job/result buffer
// depth. Call Stop to drain workers and close Results.
func New[T any](workers, bufSize int) *Queue[T] {
	if workers <= 0 {
		workers = 1
	}
	if bufSize <= 0 {
		bufSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue[T]{
		jobs:    make(chan Job[T], bufSize),
		results: make(chan T, bufSize),
		cancel:  cancel,
		ctx:     ctx,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.runWorker()
	}
	return q
}

func (q *Queue[T]) runWorker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			result := job.Run(q.ctx)
			select {
			case q.results <- result:
			case <-q.ctx.Done():
				return
			}
		}
	}
}

// Submit enqueues run under a generated correlation ID. It returns an error
// immediately if the queue is full or stopped rather than blocking the
// caller; the slot scheduler treats a rejected submission as "drop this
// decode pass, the next sub-window will catch up."
func (q *Queue[T]) Submit(run func(ctx context.Context) T) (string, error) {
	return q.SubmitWithID(uuid.NewString(), run)
}

// SubmitWithID is Submit with a caller-supplied correlation ID.
func (q *Queue[T]) SubmitWithID(id string, run func(ctx context.Context) T) (string, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return "", fmt.Errorf("workqueue: submit %s: queue stopped", id)
	}

	select {
	case q.jobs <- Job[T]{ID: id, Run: run}:
		return id, nil
	default:
		return "", fmt.Errorf("workqueue: submit %s: queue full", id)
	}
}

// Results returns the channel completed jobs are delivered on.
func (q *Queue[T]) Results() <-chan T { return q.results }

// Depth reports the number of jobs currently buffered, awaiting a worker.
func (q *Queue[T]) Depth() int { return len(q.jobs) }

// Stop cancels in-flight job contexts, waits for workers to exit, and closes
// the results channel. Safe to call more than once.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.jobs)
	q.cancel()
	q.wg.Wait()
	close(q.results)
}
