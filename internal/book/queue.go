package book

import (
	"container/heap"
	"time"

	"github.com/rs/zerolog/log"

	. "sleipnir/internal/common"
)

type entry[T any] struct {
	value T
	seq   uint64 // Seq of the authoritative index record
}

// Queue is a priority queue of orders for one side of a book, keyed by
// order id.
//
// The heap only holds index records; the orders map is the single source of
// truth for whether an order is live. Cancelling an order removes it from the
// map and leaves its index record behind as a stale entry. Stale entries are
// dropped when they reach the top of the heap during Peek or Pop, and a full
// sweep runs once more than maxStale cancels have accumulated, so the heap
// stays bounded by roughly the live orders plus the threshold.
//
// A Queue is not safe for concurrent use. Every method must run under
// exclusive access for its whole duration.
type Queue[T any] struct {
	heap     indexHeap
	orders   map[uint64]entry[T]
	side     Side
	seq      uint64 // Last issued index sequence
	cancels  uint64 // Successful cancels since the last sweep
	maxStale uint64 // Cancels tolerated before a sweep
}

func NewQueue[T any](side Side, maxStale uint64, capacity int) *Queue[T] {
	return &Queue[T]{
		heap:     make(indexHeap, 0, capacity),
		orders:   make(map[uint64]entry[T], capacity),
		side:     side,
		maxStale: maxStale,
	}
}

// Peek returns the highest priority live order without removing it. Stale
// records found on top of the heap are discarded on the way.
func (q *Queue[T]) Peek() (T, bool) {
	top, ok := q.top()
	if !ok {
		var zero T
		return zero, false
	}
	return q.orders[top.ID].value, true
}

// Pop removes and returns the highest priority live order.
func (q *Queue[T]) Pop() (T, bool) {
	defer q.assertInvariants()

	for q.heap.Len() > 0 {
		// Every iteration physically removes one record; stale ones are
		// simply skipped.
		idx := heap.Pop(&q.heap).(Index)
		if !q.live(idx) {
			continue
		}
		order := q.orders[idx.ID].value
		delete(q.orders, idx.ID)
		return order, true
	}
	var zero T
	return zero, false
}

// Insert adds a new order. It never upserts: if id is already live nothing
// is changed and false is returned.
func (q *Queue[T]) Insert(id uint64, price float64, ts time.Time, order T) bool {
	if _, ok := q.orders[id]; ok {
		return false
	}
	defer q.assertInvariants()

	idx := q.newIndex(id, price, ts)
	heap.Push(&q.heap, idx)
	q.orders[id] = entry[T]{value: order, seq: idx.Seq}
	return true
}

// Amend replaces a live order and moves it to the priority slot given by
// the new price and timestamp. Every index record held for id is dropped and
// the heap is rebuilt around one fresh record, so this costs O(n) and should
// only be used when price or time change.
func (q *Queue[T]) Amend(id uint64, price float64, ts time.Time, order T) bool {
	if _, ok := q.orders[id]; !ok {
		return false
	}
	defer q.assertInvariants()

	idx := q.newIndex(id, price, ts)
	q.orders[id] = entry[T]{value: order, seq: idx.Seq}

	q.heap.retain(func(old Index) bool { return old.ID != id })
	q.heap = append(q.heap, idx)
	heap.Init(&q.heap)
	return true
}

// Replace swaps the payload of a live order in place. Its index record, and
// with it its priority, is untouched, so the new payload must rank the same
// as the old one.
func (q *Queue[T]) Replace(id uint64, order T) bool {
	e, ok := q.orders[id]
	if !ok {
		return false
	}
	q.orders[id] = entry[T]{value: order, seq: e.seq}
	return true
}

// Cancel removes a live order. Its index record is left on the heap and is
// purged lazily.
func (q *Queue[T]) Cancel(id uint64) bool {
	if _, ok := q.orders[id]; !ok {
		return false
	}
	defer q.assertInvariants()

	delete(q.orders, id)
	q.cancels++
	if q.cancels > q.maxStale {
		q.Sweep()
	}
	return true
}

// ModifyCurrent replaces the payload of the current top order while keeping
// its index record, and with it its place in the queue. Used when a partial
// fill changes an order's remaining quantity but not its price or time.
//
// Note: do not change the price or time through this, the index won't follow.
func (q *Queue[T]) ModifyCurrent(order T) bool {
	top, ok := q.top()
	if !ok {
		return false
	}
	q.orders[top.ID] = entry[T]{value: order, seq: top.Seq}
	return true
}

// Sweep drops every stale record from the heap and resets the cancel
// counter.
func (q *Queue[T]) Sweep() {
	before := q.heap.Len()
	q.heap.retain(q.live)
	heap.Init(&q.heap)
	q.cancels = 0

	log.Debug().
		Str("side", q.side.String()).
		Int("purged", before-q.heap.Len()).
		Int("live", len(q.orders)).
		Msg("swept stale index records")
}

// ---- Read-only accessors ----

// Get returns the live order stored under id.
func (q *Queue[T]) Get(id uint64) (T, bool) {
	e, ok := q.orders[id]
	return e.value, ok
}

// Len is the number of live orders.
func (q *Queue[T]) Len() int { return len(q.orders) }

// HeapLen is the number of index records on the heap, stale ones included.
func (q *Queue[T]) HeapLen() int { return q.heap.Len() }

func (q *Queue[T]) Side() Side { return q.side }

// Range calls fn for every live order in no particular order, stopping early
// if fn returns false.
func (q *Queue[T]) Range(fn func(id uint64, order T) bool) {
	for id, e := range q.orders {
		if !fn(id, e.value) {
			return
		}
	}
}

// ---- Internal methods ----

func (q *Queue[T]) newIndex(id uint64, price float64, ts time.Time) Index {
	q.seq++
	return Index{
		ID:        id,
		Price:     price,
		Timestamp: ts,
		Seq:       q.seq,
		Side:      q.side,
	}
}

// live reports whether idx is the authoritative record of a live order.
// Records left behind by a cancel, or by a cancel followed by a re-insert of
// the same id, fail the sequence check.
func (q *Queue[T]) live(idx Index) bool {
	e, ok := q.orders[idx.ID]
	return ok && e.seq == idx.Seq
}

// top discards stale records from the top of the heap and returns the first
// live one.
func (q *Queue[T]) top() (Index, bool) {
	for q.heap.Len() > 0 {
		if idx := q.heap[0]; q.live(idx) {
			return idx, true
		}
		heap.Pop(&q.heap)
	}
	return Index{}, false
}
