package common

import (
	"fmt"
	"time"
)

// Trade accounts for the two parties who matched. Party is the liquidity
// taker, CounterParty the resting maker whose price the trade printed at.
type Trade struct {
	ID           string
	Party        Order
	CounterParty Order
	Timestamp    time.Time
	MatchQty     float64
	Price        float64
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`ID:             %s
Party: [
%s]
CounterParty:   [
%s]
Timestamp:      %v
MatchQty:       %f
Price:          %f`,
		t.ID,
		t.Party.String(),
		t.CounterParty.String(),
		t.Timestamp.Format(time.RFC3339Nano),
		t.MatchQty,
		t.Price,
	)
}
