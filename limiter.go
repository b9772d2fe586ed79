package imageflow

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// FrameLimiter gates live producers so they never run more than a fixed
// number of frames ahead of the render queue. A producer that cannot
// claim a slot drops the incoming frame instead of queueing it: live
// capture must shed load by dropping, never by accumulating latency.
type FrameLimiter struct {
	sem      *semaphore.Weighted
	capacity int64
	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// NewFrameLimiter allows up to inFlight frames between capture and render
// completion. Live pipelines typically allow a single frame in flight.
func NewFrameLimiter(inFlight int64) *FrameLimiter {
	if inFlight < 1 {
		inFlight = 1
	}
	return &FrameLimiter{
		sem:      semaphore.NewWeighted(inFlight),
		capacity: inFlight,
	}
}

// TryAcquire claims a frame slot without blocking. False means the
// pipeline is still working on previous frames and the caller should
// drop the new one.
func (l *FrameLimiter) TryAcquire() bool {
	if l.sem.TryAcquire(1) {
		l.accepted.Add(1)
		return true
	}
	l.dropped.Add(1)
	return false
}

// Release returns a slot once a frame has fully traversed the pipeline.
// Every successful TryAcquire must be balanced by exactly one Release.
func (l *FrameLimiter) Release() { l.sem.Release(1) }

// Drain blocks until every in-flight frame has completed, or until ctx is
// done. Producers call this while stopping so already-enqueued completion
// work can finish.
func (l *FrameLimiter) Drain(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, l.capacity); err != nil {
		return err
	}
	l.sem.Release(l.capacity)
	return nil
}

// Accepted returns the number of frames admitted into the pipeline.
func (l *FrameLimiter) Accepted() uint64 { return l.accepted.Load() }

// Dropped returns the number of frames shed under backpressure.
func (l *FrameLimiter) Dropped() uint64 { return l.dropped.Load() }
