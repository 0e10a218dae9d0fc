// Package queue implements the Admission Queue: a single queue with a
// global concurrency cap (spec §4.5). Enqueue never blocks its caller;
// backpressure is communicated by how long a task waits before dispatch.
// Waiting tasks are served in the order they reach the semaphore, which is
// not guaranteed to be the order of the Enqueue calls.
package queue

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Task is a unit of admitted work. It receives the context passed to
// Enqueue; if that context is cancelled while the task is still waiting
// for a slot, the task is never run.
type Task func(ctx context.Context)

// Queue encapsulates the single owner of admit/dispatch/complete state: no
// other goroutine touches the semaphore or counters directly, satisfying
// the "no shared mutable access from worker tasks" design constraint.
type Queue struct {
	sem      *semaphore.Weighted
	max      int64
	log      *zap.Logger
	inFlight int64
}

// New creates a Queue admitting at most maxConcurrent tasks at once.
func New(maxConcurrent int, log *zap.Logger) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		sem: semaphore.NewWeighted(int64(maxConcurrent)),
		max: int64(maxConcurrent),
		log: log,
	}
}

// Enqueue admits task. The call returns immediately; the task runs
// asynchronously once a slot under MAX_CONCURRENT frees. Each call hands
// its task to a new goroutine, and semaphore.Weighted serves waiters in the
// order those goroutines call Acquire; that order is not guaranteed to
// match the order of the Enqueue calls.
// Dispatch is automatically re-triggered for the next waiter as soon as
// task returns, regardless of how it returned.
func (q *Queue) Enqueue(ctx context.Context, task Task) {
	go func() {
		if err := q.sem.Acquire(ctx, 1); err != nil {
			q.log.Info("admission cancelled while waiting for a slot", zap.Error(err))
			return
		}
		atomic.AddInt64(&q.inFlight, 1)
		defer func() {
			atomic.AddInt64(&q.inFlight, -1)
			q.sem.Release(1)
		}()
		task(ctx)
	}()
}

// InFlight reports the current count of dispatched-but-not-yet-complete
// tasks, for the invariant property in spec §8.1.
func (q *Queue) InFlight() int64 {
	return atomic.LoadInt64(&q.inFlight)
}

// MaxConcurrent returns the configured admission cap.
func (q *Queue) MaxConcurrent() int64 { return q.max }
