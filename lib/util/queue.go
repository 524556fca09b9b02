package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// link is one element of the queue's singly linked list
type link[T any] struct {
	value T
	next  atomic.Pointer[link[T]]
}

// Queue is an unbounded FIFO with any number of producers and one consumer.
// Producers append to the tail with compare-and-swap only, so a Push never
// waits for the consumer. A goroutine owned by the queue moves items from the
// head of the list into the channel returned by Recv.
type Queue[T any] struct {
	head atomic.Pointer[link[T]] // sentinel, head.next is the oldest item
	tail atomic.Pointer[link[T]]

	out     chan T
	abortCh chan struct{}
	done    sync.WaitGroup

	closed  atomic.Bool
	aborted atomic.Bool
	queued  atomic.Int64 // pushed, not yet taken by the consumer goroutine
	held    atomic.Int64 // taken by the consumer goroutine, not yet received

	mu     sync.Mutex
	wakeup *sync.Cond
}

// NewQueue creates an empty queue and starts its consumer goroutine
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		out:     make(chan T),
		abortCh: make(chan struct{}),
	}
	q.wakeup = sync.NewCond(&q.mu)

	sentinel := &link[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.done.Add(1)
	go q.run()

	return q
}

// Push appends value. It returns false once the queue is closed or aborted.
func (q *Queue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	q.queued.Add(1)
	q.append(&link[T]{value: value})
	q.signal()
	return true
}

// Recv returns the channel items are delivered on. It is closed after Close
// once every item was delivered, or right away on Abort.
func (q *Queue[T]) Recv() <-chan T {
	return q.out
}

// Close rejects further pushes. Items already queued are still delivered.
func (q *Queue[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// Abort rejects further pushes and stops delivery. It waits for the consumer
// goroutine to exit and returns the number of items that were never received.
// Only the first call reports a count.
func (q *Queue[T]) Abort() int {
	if q.aborted.Swap(true) {
		return 0
	}
	q.closed.Store(true)
	close(q.abortCh)
	q.signal()

	q.done.Wait()
	return q.Len() + int(q.held.Load())
}

// IsClosed reports whether Close or Abort was called
func (q *Queue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of pushed items the consumer goroutine has not taken yet
func (q *Queue[T]) Len() int {
	return int(q.queued.Load())
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// append links l behind the current tail, retrying until no other producer
// interferes. A producer that finds a lagging tail moves it forward first.
func (q *Queue[T]) append(l *link[T]) {
	for spins := 0; ; spins++ {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next != nil {
			q.tail.CompareAndSwap(tail, next)
		} else if tail.next.CompareAndSwap(nil, l) {
			q.tail.CompareAndSwap(tail, l)
			return
		}

		if spins > 4 {
			runtime.Gosched()
		}
	}
}

// take unlinks the oldest item
func (q *Queue[T]) take() (T, bool) {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		var zero T
		return zero, false
	}

	q.head.Store(next)
	q.queued.Add(-1)

	value := next.value
	var zero T
	next.value = zero // next is the new sentinel, drop the reference
	return value, true
}

func (q *Queue[T]) signal() {
	q.mu.Lock()
	q.wakeup.Signal()
	q.mu.Unlock()
}

// wait blocks until an item was pushed or the queue was closed
func (q *Queue[T]) wait() {
	q.mu.Lock()
	for q.head.Load().next.Load() == nil && !q.closed.Load() {
		q.wakeup.Wait()
	}
	q.mu.Unlock()
}

// run is the consumer goroutine
func (q *Queue[T]) run() {
	defer q.done.Done()
	defer close(q.out)

	for {
		if q.aborted.Load() {
			return
		}

		value, ok := q.take()
		if !ok {
			if q.closed.Load() {
				return
			}
			q.wait()
			continue
		}

		q.held.Store(1)
		select {
		case q.out <- value:
			q.held.Store(0)
		case <-q.abortCh:
			return
		}
	}
}
