package imageflow

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// serialQueue executes submitted functions one at a time, in submission
// order, on a single dedicated goroutine. It is the backbone of the render
// context: confining all GPU work, reference counting, and cache mutation
// to one goroutine removes the need for fine-grained locking in the
// pipeline hot path.
//
// The queue is unbounded: Async never blocks the caller, so capture and
// decode threads can hand frames off without waiting on GPU work.
// Backpressure is handled upstream by FrameLimiter, not by the queue.
type serialQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool

	// wg waits for the worker to finish during Close.
	wg sync.WaitGroup

	// workerID holds the goroutine ID of the worker, used by OnQueue to
	// detect reentrant Sync calls and to enforce affinity assertions.
	workerID atomic.Uint64

	label string
}

// newSerialQueue creates a queue and starts its worker goroutine.
func newSerialQueue(label string) *serialQueue {
	q := &serialQueue{label: label}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *serialQueue) run() {
	defer q.wg.Done()
	q.workerID.Store(goid())

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			// Closed and drained.
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// Async enqueues fn and returns immediately. fn runs after all previously
// submitted work, never inline. It reports whether fn was accepted:
// submission to a closed queue is dropped with a warning, and callers
// holding resources tied to fn must reclaim them on a false return.
func (q *serialQueue) Async(fn func()) bool {
	if fn == nil {
		return false
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		Logger().Warn("work submitted to closed queue dropped", "queue", q.label)
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// Sync runs fn on the queue and waits for it to finish. When the caller is
// already on the queue goroutine, fn runs inline — nested Sync calls do
// not deadlock. Submission to a closed queue is dropped with a warning.
func (q *serialQueue) Sync(fn func()) {
	if fn == nil {
		return
	}
	if q.OnQueue() {
		fn()
		return
	}

	done := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		Logger().Warn("work submitted to closed queue dropped", "queue", q.label)
		return
	}
	q.pending = append(q.pending, func() {
		defer close(done)
		fn()
	})
	q.mu.Unlock()
	q.cond.Signal()
	<-done
}

// OnQueue reports whether the calling goroutine is the queue's worker.
func (q *serialQueue) OnQueue() bool {
	return goid() == q.workerID.Load()
}

// assertOnQueue panics when the caller is not on the worker goroutine.
// Queue-affine operations (refcount mutation, cache access, fan-out,
// pipeline wiring) call this; running them off-queue is a programming
// error that would corrupt shared state.
func (q *serialQueue) assertOnQueue(op string) {
	if !q.OnQueue() {
		panic("imageflow: " + op + " called off the render queue; wrap the call in RenderContext.Sync or Async")
	}
}

// Len returns the number of queued, not-yet-started functions.
func (q *serialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the queue after draining already-submitted work. Later
// submissions are dropped. Safe to call multiple times; when called from
// the worker itself it marks the queue closed without waiting.
func (q *serialQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()

	if !q.OnQueue() {
		q.wg.Wait()
	}
}

// goid returns the numeric ID of the calling goroutine, parsed from the
// header line of its stack trace ("goroutine N [status]:"). The parse is
// allocation-free; the queue calls this on every Sync and affinity check.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	const prefix = len("goroutine ")
	var id uint64
	for _, c := range buf[prefix:n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
