package engine

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"sleipnir/internal/book"
	. "sleipnir/internal/common"
)

// This is the main matching engine. It owns one order book per instrument
// pair and drives matching on top of the books' best-order primitives.

// market pairs a book with the lock every operation on it must hold. Books
// share nothing, so different pairs are served concurrently.
type market struct {
	mu   sync.Mutex
	book *book.OrderBook
}

type Engine struct {
	books    map[Pair]*market // Fixed at construction
	reporter Reporter
	ids      atomic.Uint64 // Last issued order id
	now      func() time.Time
}

func New(cfg book.Config, pairs ...Pair) *Engine {
	engine := &Engine{
		books:    make(map[Pair]*market, len(pairs)),
		reporter: nopReporter{},
		now:      time.Now,
	}

	for _, pair := range pairs {
		engine.books[pair] = &market{book: book.New(pair, cfg)}
	}

	return engine
}

// SetReporter must be called before the engine starts serving orders.
func (engine *Engine) SetReporter(reporter Reporter) {
	if reporter == nil {
		reporter = nopReporter{}
	}
	engine.reporter = reporter
}

// Pairs lists the instrument pairs the engine holds books for.
func (engine *Engine) Pairs() []Pair {
	pairs := make([]Pair, 0, len(engine.books))
	for pair := range engine.books {
		pairs = append(pairs, pair)
	}
	return pairs
}

// PlaceOrder accepts a new limit order, rests it in its book and matches the
// book. The returned order carries the exchange assigned id and timestamp.
//
// The engine writes the Timestamp of the order to note the time at which the
// order was placed. We do not care about the accuracy of the timestamp, just
// its relativity to other timestamps.
func (engine *Engine) PlaceOrder(order Order) (Order, error) {
	m, err := engine.market(order.Pair)
	if err != nil {
		return Order{}, err
	}
	if err := validate(order.Side, order.Price, order.Quantity); err != nil {
		return Order{}, err
	}

	order.ID = engine.ids.Add(1)
	order.TotalQuantity = order.Quantity

	m.mu.Lock()
	order.Timestamp = engine.now()
	if !m.book.Submit(order) {
		// Ids are never reused, so this means the book is corrupt.
		m.mu.Unlock()
		return Order{}, fmt.Errorf("%w: order %d already rests in %s", ErrRejection, order.ID, order.Pair)
	}
	trades := engine.match(m.book)
	m.mu.Unlock()

	log.Debug().
		Str("pair", order.Pair.String()).
		Uint64("id", order.ID).
		Str("side", order.Side.String()).
		Float64("price", order.Price).
		Float64("quantity", order.Quantity).
		Msg("order placed")

	engine.reportAck(order)
	engine.reportTrades(trades)
	return order, nil
}

// AmendOrder changes the price and remaining quantity of a resting order and
// re-matches the book. A pure quantity reduction keeps the order's time
// priority, anything else sends it to the back of its new price level.
func (engine *Engine) AmendOrder(pair Pair, side Side, id uint64, price, quantity float64) (Order, error) {
	m, err := engine.market(pair)
	if err != nil {
		return Order{}, err
	}
	if err := validate(side, price, quantity); err != nil {
		return Order{}, err
	}

	m.mu.Lock()
	current, ok := m.book.Lookup(id, side)
	if !ok {
		m.mu.Unlock()
		return Order{}, fmt.Errorf("%w: %d on %s %s", ErrOrderNotFound, id, pair, side)
	}

	amended := current
	amended.Price = price
	amended.Quantity = quantity
	amended.TotalQuantity = current.TotalQuantity - current.Quantity + quantity
	if price == current.Price && quantity <= current.Quantity {
		// Priority is unchanged, only the payload is swapped.
		m.book.Replace(id, side, amended)
	} else {
		amended.Timestamp = engine.now()
		m.book.Amend(id, side, amended.Price, amended.Timestamp, amended)
	}
	trades := engine.match(m.book)
	m.mu.Unlock()

	log.Debug().
		Str("pair", pair.String()).
		Uint64("id", id).
		Float64("price", price).
		Float64("quantity", quantity).
		Msg("order amended")

	engine.reportAck(amended)
	engine.reportTrades(trades)
	return amended, nil
}

func (engine *Engine) CancelOrder(pair Pair, side Side, id uint64) error {
	m, err := engine.market(pair)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.book.Cancel(id, side) {
		return fmt.Errorf("%w: %d on %s %s", ErrOrderNotFound, id, pair, side)
	}

	log.Debug().
		Str("pair", pair.String()).
		Uint64("id", id).
		Msg("order cancelled")
	return nil
}

// Best returns the best live order on one side of a book.
func (engine *Engine) Best(pair Pair, side Side) (Order, bool) {
	m, err := engine.market(pair)
	if err != nil {
		return Order{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Best(side)
}

// Depth is an aggregated view of a book.
type Depth struct {
	Pair Pair
	Bids []book.Level
	Asks []book.Level
}

// Depth returns up to levels price levels per side; levels <= 0 returns the
// whole book.
func (engine *Engine) Depth(pair Pair, levels int) (Depth, error) {
	m, err := engine.market(pair)
	if err != nil {
		return Depth{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return Depth{
		Pair: pair,
		Bids: m.book.Depth(Buy, levels),
		Asks: m.book.Depth(Sell, levels),
	}, nil
}

// Compact purges stale index records from every book. Books sweep on their
// own under cancel churn; this is for idle periods.
func (engine *Engine) Compact() {
	for _, m := range engine.books {
		m.mu.Lock()
		m.book.Compact()
		m.mu.Unlock()
	}
}

// ---- Utility Methods ----

func (engine *Engine) market(pair Pair) (*market, error) {
	m, ok := engine.books[pair]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return m, nil
}

// validate rejects anything the matching loop cannot do arithmetic on. NaN
// fails the comparisons, infinities are caught explicitly.
func validate(side Side, price, quantity float64) error {
	switch {
	case !side.Valid():
		return fmt.Errorf("%w: invalid side %v", ErrRejection, side)
	case !(price > 0) || math.IsInf(price, 0):
		return fmt.Errorf("%w: price must be positive and finite, got %f", ErrRejection, price)
	case !(quantity >= MinQuantity) || math.IsInf(quantity, 0):
		return fmt.Errorf("%w: quantity must be finite and at least %g, got %f", ErrRejection, MinQuantity, quantity)
	}
	return nil
}

func (engine *Engine) reportAck(order Order) {
	if err := engine.reporter.ReportAck(order); err != nil {
		log.Error().Err(err).Uint64("id", order.ID).Msg("unable to report ack")
	}
}

func (engine *Engine) reportTrades(trades []Trade) {
	for _, trade := range trades {
		if err := engine.reporter.ReportTrade(trade); err != nil {
			log.Error().Err(err).Str("trade", trade.ID).Msg("unable to report trade")
		}
	}
}
