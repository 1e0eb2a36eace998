package transport

import (
	"sync/atomic"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// Queue is a bounded FIFO threaded through the pool slots' next links. A
// frame can be in at most one queue because it has a single link.
//
// Queue does no locking of its own. The radio protects its receive queue by
// masking the appending interrupt; other users must serialise themselves.
// Len may be read from anywhere.
type Queue struct {
	pool  *Pool
	head  FrameID
	tail  FrameID
	depth atomic.Int32
	max   int32
}

func NewQueue(pool *Pool, max int) *Queue {
	return &Queue{
		pool: pool,
		head: noFrame,
		tail: noFrame,
		max:  int32(max),
	}
}

func (q *Queue) Len() int   { return int(q.depth.Load()) }
func (q *Queue) Cap() int   { return int(q.max) }
func (q *Queue) Full() bool { return q.depth.Load() >= q.max }

func (q *Queue) enqueue(id FrameID) error {
	if q.Full() {
		return proto.ErrResourceExhausted
	}

	// We add to the tail of the queue to preserve causal ordering.
	s := &q.pool.slots[id]
	s.next = noFrame
	q.pool.setRole(id, roleQueued)
	if q.head == noFrame {
		q.head = id
	} else {
		q.pool.slots[q.tail].next = id
	}
	q.tail = id
	q.depth.Add(1)
	return nil
}

func (q *Queue) dequeue() (FrameID, bool) {
	id := q.head
	if id == noFrame {
		return noFrame, false
	}
	s := &q.pool.slots[id]
	q.head = s.next
	if q.head == noFrame {
		q.tail = noFrame
	}
	s.next = noFrame
	q.pool.setRole(id, roleOwned)
	q.depth.Add(-1)
	return id, true
}

func (q *Queue) peek() (FrameID, bool) {
	return q.head, q.head != noFrame
}

// Push appends an owned frame. It fails with ErrResourceExhausted when the
// queue is full and leaves the frame with the caller.
func (q *Queue) Push(f Frame) error {
	if f.pool != q.pool || f.slot() == nil || q.pool.roleOf(f.id) != roleOwned {
		return proto.ErrInvalidParameter
	}
	return q.enqueue(f.id)
}

// Pop removes the head frame and transfers it to the caller.
func (q *Queue) Pop() (Frame, bool) {
	id, ok := q.dequeue()
	if !ok {
		return Frame{}, false
	}
	return q.pool.handle(id), true
}

func (q *Queue) Peek() (Frame, bool) {
	id, ok := q.peek()
	if !ok {
		return Frame{}, false
	}
	return q.pool.handle(id), true
}
