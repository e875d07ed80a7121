package engine

import (
	"github.com/google/uuid"

	"sleipnir/internal/book"
	. "sleipnir/internal/common"
)

// match consumes the top of book while it crosses (i.e., bid >= ask). While the
// orders cross, they are matched in price-time-priority. The caller must hold
// the book's lock.
//
// The order that arrived later is considered the liquidity taker and the
// trade prints at the resting maker's price.
//
// NOTE: There will only be a matching if the newest order is top of book.
// Otherwise, the book was already in a stable state.
func (engine *Engine) match(b *book.OrderBook) []Trade {
	var trades []Trade
	for {
		bid, bidOk := b.Best(Buy)
		ask, askOk := b.Best(Sell)

		// If either side is empty, or prices don't cross, we are done.
		if !bidOk || !askOk || bid.Price < ask.Price {
			return trades
		}

		matchQty := min(bid.Quantity, ask.Quantity)
		bid.Quantity -= matchQty
		ask.Quantity -= matchQty

		taker, maker := bid, ask
		if arrivedAfter(ask, bid) {
			taker, maker = ask, bid
		}
		trades = append(trades, Trade{
			ID:           uuid.NewString(),
			Party:        taker,
			CounterParty: maker,
			Timestamp:    engine.now(),
			MatchQty:     matchQty,
			Price:        maker.Price,
		})

		// Fully filled orders leave the book. Partially filled ones are
		// re-seated in place: a fill never costs an order its priority.
		settle(b, bid)
		settle(b, ask)
	}
}

func settle(b *book.OrderBook, order Order) {
	if order.Filled() {
		b.TakeBest(order.Side)
		return
	}
	b.ModifyBest(order.Side, order)
}

// arrivedAfter reports whether a reached the book after b. Ids are issued in
// arrival order and break timestamp ties.
func arrivedAfter(a, b Order) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}
