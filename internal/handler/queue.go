package handler

import "sync/atomic"

// waitQueue is an unbounded lock-free FIFO of parked requests
// (Michael-Scott two-pointer queue). Admission and completion paths
// touch it concurrently, so it must never block a caller.
type waitQueue struct {
	head atomic.Pointer[waitNode]
	tail atomic.Pointer[waitNode]
}

type waitNode struct {
	value *queuedRequest
	next  atomic.Pointer[waitNode]
}

func newWaitQueue() *waitQueue {
	q := &waitQueue{}
	sentinel := &waitNode{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// push appends a request to the tail
func (q *waitQueue) push(value *queuedRequest) {
	node := &waitNode{value: value}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// Tail is lagging, help it along.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, node) {
			q.tail.CompareAndSwap(tail, node)
			return
		}
	}
}

// pop removes and returns the head request, or nil if the queue is
// empty
func (q *waitQueue) pop() *queuedRequest {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if head == tail {
			if next == nil {
				return nil
			}
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		value := next.value
		if q.head.CompareAndSwap(head, next) {
			return value
		}
	}
}
