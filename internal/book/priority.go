package book

import (
	"time"

	. "sleipnir/internal/common"
)

// Index is the lightweight ordering key pushed onto a queue's heap. It is
// never mutated once pushed; amending an order pushes a new Index.
type Index struct {
	ID        uint64
	Price     float64
	Timestamp time.Time
	Seq       uint64 // Per-queue push sequence, breaks timestamp ties
	Side      Side
}

// Compare orders two index records by execution priority on a's side.
// It returns a negative number when a is served first, a positive number
// when b is, and zero when neither has priority over the other.
//
// Bids rank higher prices first and asks rank lower prices first. At equal
// prices the earlier timestamp wins, and at equal timestamps the earlier
// push wins, so orders arriving within one clock tick still keep FIFO.
func Compare(a, b Index) int {
	if a.Price != b.Price {
		better := a.Price > b.Price
		if a.Side == Sell {
			better = a.Price < b.Price
		}
		if better {
			return -1
		}
		return 1
	}
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}

// Before reports whether a is served before b.
func Before(a, b Index) bool {
	return Compare(a, b) < 0
}
