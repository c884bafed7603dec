// Package event implements the single-producer/single-consumer
// rendezvous primitive that stitches CuckooDB's background pipeline
// together: Cache hands a flushed batch to the data file manager,
// the data file manager hands the offsets to the index, and once the
// index has acknowledged them the data file manager signals the cache
// that it is safe to drop the copy buffer. Each handoff blocks the
// producer until the consumer calls Done, giving the pipeline
// backpressure for free instead of an
// unbounded queue.
//
// Grounded on the original CuckooDB engine's Event<T>/EventManager
// (util/event_manager.h): one mutex serializes producers so only one
// notify_and_wait is in flight at a time, a second mutex guards the
// data slot and the has-data flag, and two condition variables signal
// "data ready" and "consumer done" respectively.
package event

import "sync"

// Event is a generic single-slot rendezvous point. A producer calls
// NotifyAndWait to hand off a value and block until the consumer
// finishes with it; a consumer calls Wait to receive the value and
// Done once it has finished processing it. At most one producer may
// be inside NotifyAndWait at a time — concurrent producers serialize
// on producerMu exactly as the pipeline's single flusher goroutine
// requires.
type Event[T any] struct {
	producerMu sync.Mutex

	mu      sync.Mutex
	cvReady *sync.Cond
	cvDone  *sync.Cond
	data    T
	hasData bool
	closed  bool
}

// New constructs a ready-to-use Event.
func New[T any]() *Event[T] {
	e := &Event[T]{}
	e.cvReady = sync.NewCond(&e.mu)
	e.cvDone = sync.NewCond(&e.mu)
	return e
}

// NotifyAndWait hands data to the consumer and blocks until the
// consumer calls Done. Only one goroutine may be inside
// NotifyAndWait at a time; a second caller blocks on producerMu
// until the first completes its full handoff.
func (e *Event[T]) NotifyAndWait(data T) {
	e.producerMu.Lock()
	defer e.producerMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.data = data
	e.hasData = true
	e.cvReady.Signal()

	for e.hasData && !e.closed {
		e.cvDone.Wait()
	}
}

// Wait blocks until a producer has data ready, then returns it. If
// data is already waiting (the producer got there first) it returns
// immediately. Once Close has been called, Wait returns the zero
// value immediately instead of blocking forever on a producer that
// will never arrive.
func (e *Event[T]) Wait() T {
	e.mu.Lock()
	defer e.mu.Unlock()

	for !e.hasData && !e.closed {
		e.cvReady.Wait()
	}

	if !e.hasData {
		var zero T
		return zero
	}
	return e.data
}

// Done signals the producer blocked in NotifyAndWait that the
// consumer has finished with the value returned by Wait.
func (e *Event[T]) Done() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.hasData = false
	e.cvDone.Signal()
}

// Notify signals the ready condition without publishing data. A
// consumer blocked in Wait wakes, finds no data and the event still
// open, and waits again, so Notify alone does not make Wait return;
// Close does.
func (e *Event[T]) Notify() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cvReady.Signal()
}

// Close permanently wakes any goroutine blocked in Wait (with the
// zero value) or NotifyAndWait (which returns without a consumer ever
// calling Done). Used during shutdown to unstick a pipeline stage
// that would otherwise block forever on a peer that has already
// exited.
func (e *Event[T]) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.cvReady.Broadcast()
	e.cvDone.Broadcast()
}
