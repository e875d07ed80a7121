package book

import (
	"time"

	. "sleipnir/internal/common"
)

const (
	DefaultStaleThreshold = 10
	DefaultQueueCapacity  = 500
)

// Config tunes the per-side queues of a book.
type Config struct {
	// Successful cancels tolerated on a side before its stale index records
	// are swept.
	StaleThreshold uint64
	// Initial capacity of each side's heap and order map.
	QueueCapacity int
}

func DefaultConfig() Config {
	return Config{
		StaleThreshold: DefaultStaleThreshold,
		QueueCapacity:  DefaultQueueCapacity,
	}
}

// OrderBook holds the resting orders of one instrument pair, one queue per
// side. It performs no matching itself: it only guarantees that the best live
// order of each side, and mutation of it, are always consistent. Whoever
// drives matching builds on Best, TakeBest and ModifyBest.
//
// An OrderBook is not safe for concurrent use.
type OrderBook struct {
	pair Pair
	bids *Queue[Order]
	asks *Queue[Order]
}

func New(pair Pair, cfg Config) *OrderBook {
	return &OrderBook{
		pair: pair,
		bids: NewQueue[Order](Buy, cfg.StaleThreshold, cfg.QueueCapacity),
		asks: NewQueue[Order](Sell, cfg.StaleThreshold, cfg.QueueCapacity),
	}
}

func (book *OrderBook) Pair() Pair { return book.pair }

// Submit rests a new order on its side, ranked by its price and timestamp.
// Returns false if an order with the same id is already live on that side.
func (book *OrderBook) Submit(order Order) bool {
	q := book.queue(order.Side)
	if q == nil {
		return false
	}
	return q.Insert(order.ID, order.Price, order.Timestamp, order)
}

// Amend replaces a live order and re-ranks it at the new price and time. The
// stored order carries the new price and timestamp.
func (book *OrderBook) Amend(id uint64, side Side, price float64, ts time.Time, order Order) bool {
	q := book.queue(side)
	if q == nil {
		return false
	}
	order.ID = id
	order.Side = side
	order.Price = price
	order.Timestamp = ts
	return q.Amend(id, price, ts, order)
}

// Replace swaps a live order for one of equal price and timestamp, keeping
// its place in the queue. Used for quantity reductions.
func (book *OrderBook) Replace(id uint64, side Side, order Order) bool {
	q := book.queue(side)
	if q == nil {
		return false
	}
	current, ok := q.Get(id)
	if !ok {
		return false
	}
	order.ID = id
	order.Side = side
	order.Price = current.Price
	order.Timestamp = current.Timestamp
	return q.Replace(id, order)
}

func (book *OrderBook) Cancel(id uint64, side Side) bool {
	q := book.queue(side)
	if q == nil {
		return false
	}
	return q.Cancel(id)
}

// Best returns the highest priority live order on a side.
func (book *OrderBook) Best(side Side) (Order, bool) {
	q := book.queue(side)
	if q == nil {
		return Order{}, false
	}
	return q.Peek()
}

// TakeBest removes and returns the highest priority live order on a side.
func (book *OrderBook) TakeBest(side Side) (Order, bool) {
	q := book.queue(side)
	if q == nil {
		return Order{}, false
	}
	return q.Pop()
}

// ModifyBest replaces the best order on a side without moving it, e.g. to
// record a partial fill. The order's price and timestamp must not change.
func (book *OrderBook) ModifyBest(side Side, order Order) bool {
	q := book.queue(side)
	if q == nil {
		return false
	}
	return q.ModifyCurrent(order)
}

// Compact sweeps stale index records from both sides.
func (book *OrderBook) Compact() {
	book.bids.Sweep()
	book.asks.Sweep()
}

// ---- Utility Methods ----

// Lookup returns the live order with the given id on a side.
func (book *OrderBook) Lookup(id uint64, side Side) (Order, bool) {
	q := book.queue(side)
	if q == nil {
		return Order{}, false
	}
	return q.Get(id)
}

// Len is the number of live orders on a side.
func (book *OrderBook) Len(side Side) int {
	q := book.queue(side)
	if q == nil {
		return 0
	}
	return q.Len()
}

// Depth returns up to levels aggregated price levels for a side, best first.
func (book *OrderBook) Depth(side Side, levels int) []Level {
	q := book.queue(side)
	if q == nil {
		return nil
	}
	return depth(q, levels)
}

func (book *OrderBook) queue(side Side) *Queue[Order] {
	switch side {
	case Buy:
		return book.bids
	case Sell:
		return book.asks
	}
	return nil
}
