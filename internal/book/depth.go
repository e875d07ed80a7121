package book

import (
	"github.com/tidwall/btree"

	. "sleipnir/internal/common"
)

// Level aggregates the live orders resting at one price.
type Level struct {
	Price    float64
	Quantity float64 // Total remaining quantity at the price
	Orders   int     // Number of orders at the price
}

type Levels = btree.BTreeG[*Level]

func newLevels(side Side) *Levels {
	if side == Buy {
		// Sorted greatest first.
		return btree.NewBTreeG(func(a, b *Level) bool {
			return a.Price > b.Price
		})
	}
	// Sorted least first.
	return btree.NewBTreeG(func(a, b *Level) bool {
		return a.Price < b.Price
	})
}

// depth aggregates the queue's live orders into price levels, best price
// first. At most limit levels are returned; limit <= 0 returns all of them.
func depth(q *Queue[Order], limit int) []Level {
	levels := newLevels(q.Side())
	q.Range(func(_ uint64, order Order) bool {
		// Levels comparator only accounts for price, so a dummy level is
		// enough for the search.
		level, ok := levels.GetMut(&Level{Price: order.Price})
		if !ok {
			level = &Level{Price: order.Price}
			levels.Set(level)
		}
		level.Quantity += order.Quantity
		level.Orders++
		return true
	})

	n := levels.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Level, 0, n)
	levels.Scan(func(level *Level) bool {
		if len(out) == n {
			return false
		}
		out = append(out, *level)
		return true
	})
	return out
}
