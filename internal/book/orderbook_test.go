package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "sleipnir/internal/common"
)

func createTestOrderBook() *OrderBook {
	return New(NewPair("BTC", "USDT"), DefaultConfig())
}

func submitTestOrders(t *testing.T, book *OrderBook, side Side, price float64, ids ...uint64) {
	t.Helper()
	for _, id := range ids {
		order := testOrder(id, side, price, at(int(id)))
		require.True(t, book.Submit(order))
	}
}

func TestOrderBook_SidesAreIndependent(t *testing.T) {
	book := createTestOrderBook()

	// 1. Setup: bids at 99 and 98, asks at 100 and 101.
	submitTestOrders(t, book, Buy, 98, 1)
	submitTestOrders(t, book, Buy, 99, 2)
	submitTestOrders(t, book, Sell, 101, 3)
	submitTestOrders(t, book, Sell, 100, 4)

	// 2. Assertions
	bestBid, ok := book.Best(Buy)
	require.True(t, ok)
	assert.Equal(t, uint64(2), bestBid.ID)

	bestAsk, ok := book.Best(Sell)
	require.True(t, ok)
	assert.Equal(t, uint64(4), bestAsk.ID)

	assert.Equal(t, 2, book.Len(Buy))
	assert.Equal(t, 2, book.Len(Sell))
	assert.Equal(t, NewPair("BTC", "USDT"), book.Pair())
}

func TestOrderBook_SubmitDuplicate(t *testing.T) {
	book := createTestOrderBook()
	submitTestOrders(t, book, Buy, 99, 1)

	assert.False(t, book.Submit(testOrder(1, Buy, 120, at(9))))

	// The same id may rest on the other side: each side is keyed separately.
	assert.True(t, book.Submit(testOrder(1, Sell, 120, at(9))))
}

func TestOrderBook_InvalidSide(t *testing.T) {
	book := createTestOrderBook()
	bad := Side(7)

	assert.False(t, book.Submit(testOrder(1, bad, 100, at(0))))
	assert.False(t, book.Amend(1, bad, 100, at(0), Order{}))
	assert.False(t, book.Cancel(1, bad))
	assert.False(t, book.ModifyBest(bad, Order{}))
	_, ok := book.Best(bad)
	assert.False(t, ok)
	_, ok = book.TakeBest(bad)
	assert.False(t, ok)
	_, ok = book.Lookup(1, bad)
	assert.False(t, ok)
	assert.Equal(t, 0, book.Len(bad))
	assert.Nil(t, book.Depth(bad, 0))
}

func TestOrderBook_Amend(t *testing.T) {
	book := createTestOrderBook()
	submitTestOrders(t, book, Sell, 100, 1, 2)

	current, ok := book.Lookup(1, Sell)
	require.True(t, ok)
	current.Quantity = 3

	require.True(t, book.Amend(1, Sell, 102, at(10), current))
	assert.False(t, book.Amend(9, Sell, 102, at(10), current))

	amended, ok := book.Lookup(1, Sell)
	require.True(t, ok)
	assert.Equal(t, 102.0, amended.Price)
	assert.Equal(t, at(10), amended.Timestamp)
	assert.Equal(t, 3.0, amended.Quantity)

	best, ok := book.Best(Sell)
	require.True(t, ok)
	assert.Equal(t, uint64(2), best.ID)
}

func TestOrderBook_Replace(t *testing.T) {
	book := createTestOrderBook()
	submitTestOrders(t, book, Buy, 100, 1, 2)

	current, ok := book.Lookup(1, Buy)
	require.True(t, ok)
	current.Quantity = 0.25
	current.Price = 500 // Ignored, the book keeps the ranked price

	require.True(t, book.Replace(1, Buy, current))
	assert.False(t, book.Replace(1, Sell, current))
	assert.False(t, book.Replace(9, Buy, current))

	best, ok := book.Best(Buy)
	require.True(t, ok)
	assert.Equal(t, uint64(1), best.ID)
	assert.Equal(t, 100.0, best.Price)
	assert.Equal(t, at(1), best.Timestamp)
	assert.Equal(t, 0.25, best.Quantity)
}

func TestOrderBook_TakeAndModifyBest(t *testing.T) {
	book := createTestOrderBook()
	submitTestOrders(t, book, Buy, 100, 1, 2)

	best, ok := book.Best(Buy)
	require.True(t, ok)
	best.Quantity = 0.5
	require.True(t, book.ModifyBest(Buy, best))

	taken, ok := book.TakeBest(Buy)
	require.True(t, ok)
	assert.Equal(t, uint64(1), taken.ID)
	assert.Equal(t, 0.5, taken.Quantity)

	require.True(t, book.Cancel(2, Buy))
	assert.False(t, book.Cancel(2, Buy))

	_, ok = book.TakeBest(Buy)
	assert.False(t, ok)
	assert.False(t, book.ModifyBest(Buy, best))
}

func TestOrderBook_Depth(t *testing.T) {
	book := createTestOrderBook()

	// 1. Setup
	submitTestOrders(t, book, Buy, 99, 1, 2, 3)
	submitTestOrders(t, book, Buy, 98, 4)
	submitTestOrders(t, book, Buy, 97, 5, 6)
	submitTestOrders(t, book, Sell, 101, 7)
	submitTestOrders(t, book, Sell, 100, 8, 9)
	require.True(t, book.Cancel(2, Buy))

	// 2. Define Expectations
	expectedBids := []Level{
		{Price: 99, Quantity: 2, Orders: 2},
		{Price: 98, Quantity: 1, Orders: 1},
		{Price: 97, Quantity: 2, Orders: 2},
	}
	expectedAsks := []Level{
		{Price: 100, Quantity: 2, Orders: 2},
		{Price: 101, Quantity: 1, Orders: 1},
	}

	// 3. Assertions
	assert.Equal(t, expectedBids, book.Depth(Buy, 0), "Bids should be sorted High -> Low")
	assert.Equal(t, expectedAsks, book.Depth(Sell, 0), "Asks should be sorted Low -> High")
	assert.Equal(t, expectedBids[:2], book.Depth(Buy, 2))
	assert.Equal(t, expectedAsks, book.Depth(Sell, 10))
	assert.Empty(t, createTestOrderBook().Depth(Sell, 5))
}

func TestOrderBook_Compact(t *testing.T) {
	book := New(NewPair("BTC", "USDT"), Config{StaleThreshold: 100, QueueCapacity: 4})
	submitTestOrders(t, book, Buy, 99, 1, 2, 3)
	submitTestOrders(t, book, Sell, 101, 4, 5)
	require.True(t, book.Cancel(3, Buy))
	require.True(t, book.Cancel(5, Sell))
	assert.Equal(t, 3, book.bids.HeapLen())
	assert.Equal(t, 2, book.asks.HeapLen())

	book.Compact()

	assert.Equal(t, 2, book.bids.HeapLen())
	assert.Equal(t, 1, book.asks.HeapLen())
	best, ok := book.Best(Buy)
	require.True(t, ok)
	assert.Equal(t, uint64(1), best.ID)
}
