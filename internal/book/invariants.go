package book

import (
	"errors"
	"fmt"
)

var ErrInconsistent = errors.New("queue index inconsistent")

// verify checks the queue's internal consistency: the heap property holds,
// every record belongs to the queue's side, and every live order has exactly
// one authoritative index record.
func (q *Queue[T]) verify() error {
	authoritative := make(map[uint64]int, len(q.orders))
	for i, idx := range q.heap {
		if idx.Side != q.side {
			return fmt.Errorf("%w: record %d for order %d is on side %v, queue is %v",
				ErrInconsistent, i, idx.ID, idx.Side, q.side)
		}
		if parent := (i - 1) / 2; i > 0 && Before(idx, q.heap[parent]) {
			return fmt.Errorf("%w: record %d outranks its parent %d", ErrInconsistent, i, parent)
		}
		if q.live(idx) {
			authoritative[idx.ID]++
		}
	}
	for id := range q.orders {
		if n := authoritative[id]; n != 1 {
			return fmt.Errorf("%w: order %d has %d authoritative records",
				ErrInconsistent, id, n)
		}
	}
	return nil
}

// assertInvariants panics on an inconsistent queue. It compiles to nothing
// unless built with the bookdebug tag.
func (q *Queue[T]) assertInvariants() {
	if !debugInvariants {
		return
	}
	if err := q.verify(); err != nil {
		panic(err)
	}
}
