package common

import (
	"fmt"
	"time"
)

type Order struct {
	ID            uint64    // Exchange assigned order id
	Pair          Pair      // Instrument the order rests on
	Side          Side      // Order side
	Price         float64   // Limiting price
	Quantity      float64   // Remaining quantity
	TotalQuantity float64   // Total volume requested
	Timestamp     time.Time // Time of arrival (or last amend) into the book
	Owner         string    // Who owns this order
	Session       string    // Connection the order arrived on, used to route reports
}

// MinQuantity is the smallest quantity the exchange trades. Remainders below
// it are float rounding left over from matching and count as filled.
const MinQuantity = 1e-9

// Filled reports whether no tradable quantity remains on the order.
func (order Order) Filled() bool {
	return order.Quantity < MinQuantity
}

func (order Order) String() string {
	return fmt.Sprintf(
		`ID:            %d
Pair:          %s
Side:          %v
Price:         %f
Quantity:      %f (Total: %f)
Timestamp:     %v
Owner:         %s`,
		order.ID,
		order.Pair,
		order.Side,
		order.Price,
		order.Quantity,
		order.TotalQuantity,
		order.Timestamp.Format(time.RFC3339Nano), // Formatted for readability
		order.Owner,
	)
}
