package common

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPair = errors.New("invalid instrument pair")

type Side int

const (
	Buy Side = iota
	Sell
)

// Valid reports whether the side is one of the two book sides.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// Pair is the instrument one order book serves. Orders are denominated in
// OrderAsset and priced in PriceAsset (e.g. BTC priced in USDT).
type Pair struct {
	OrderAsset string
	PriceAsset string
}

func NewPair(orderAsset, priceAsset string) Pair {
	return Pair{OrderAsset: orderAsset, PriceAsset: priceAsset}
}

// MaxAssetLen is the longest asset code the wire protocol can carry.
const MaxAssetLen = 4

// ParsePair parses the "ORDER/PRICE" notation. Asset codes longer than
// MaxAssetLen are rejected.
func ParsePair(s string) (Pair, error) {
	orderAsset, priceAsset, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || orderAsset == "" || priceAsset == "" {
		return Pair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	if len(orderAsset) > MaxAssetLen || len(priceAsset) > MaxAssetLen {
		return Pair{}, fmt.Errorf("%w: %q, assets are at most %d bytes", ErrInvalidPair, s, MaxAssetLen)
	}
	return NewPair(orderAsset, priceAsset), nil
}

func (p Pair) String() string {
	return p.OrderAsset + "/" + p.PriceAsset
}
