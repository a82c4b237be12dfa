package core

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrQueueEmpty is the panic value of Dequeue on an empty queue.
var ErrQueueEmpty = errors.New("dequeue on empty deferred event queue")

type eventNode struct {
	event DeferredEvent
	next  *eventNode
}

// DeferredEventQueue is an intrusive FIFO of DeferredEvent.
//
// The queue has no lock of its own: every method except HasEvents and Len must be
// called with the owner's coordination lock held. HasEvents and Len may be read
// without the lock as a hint.
type DeferredEventQueue struct {
	head *eventNode
	tail *eventNode

	length   atomic.Int64
	enqueued atomic.Uint64
}

// NewDeferredEventQueue creates an empty queue.
func NewDeferredEventQueue() *DeferredEventQueue {
	return &DeferredEventQueue{}
}

// Enqueue appends ev at the tail and stamps its enqueue time.
func (q *DeferredEventQueue) Enqueue(ev DeferredEvent) {
	ev.enqueuedAt = time.Now()
	node := &eventNode{event: ev}
	if q.tail == nil {
		q.head = node
	} else {
		q.tail.next = node
	}
	q.tail = node
	q.length.Add(1)
	q.enqueued.Add(1)
}

// Dequeue removes and returns the head. Callers check HasEvents first;
// dequeuing from an empty queue panics with ErrQueueEmpty.
func (q *DeferredEventQueue) Dequeue() DeferredEvent {
	node := q.head
	if node == nil {
		panic(ErrQueueEmpty)
	}
	q.head = node.next
	if q.head == nil {
		q.tail = nil
	}
	// Unlink so a retained node does not pin the rest of the list
	node.next = nil
	q.length.Add(-1)
	return node.event
}

// HasEvents reports whether the queue is non-empty.
func (q *DeferredEventQueue) HasEvents() bool {
	return q.length.Load() > 0
}

// Len returns the number of queued events.
func (q *DeferredEventQueue) Len() int {
	return int(q.length.Load())
}

// Enqueued returns the total number of events ever enqueued.
func (q *DeferredEventQueue) Enqueued() uint64 {
	return q.enqueued.Load()
}

// ScanRefs visits the references of every queued event, head to tail.
func (q *DeferredEventQueue) ScanRefs(v RefVisitor) {
	for node := q.head; node != nil; node = node.next {
		node.event.ScanRefs(v)
	}
}
