package engine

import (
	"errors"

	. "sleipnir/internal/common"
)

var (
	ErrRejection     = errors.New("order rejection")
	ErrOrderNotFound = errors.New("order not found")
	ErrUnknownPair   = errors.New("unknown instrument pair")
)

// Reporter receives everything the engine wants to tell the outside world.
// Calls happen after the book lock has been released.
type Reporter interface {
	// ReportAck confirms an order was accepted (or amended) and rests under
	// the returned id.
	ReportAck(order Order) error
	// ReportTrade is fired once per fill, addressable to both parties.
	ReportTrade(trade Trade) error
	// ReportError tells the owner of a session its request failed.
	ReportError(session string, err error) error
}

type nopReporter struct{}

func (nopReporter) ReportAck(Order) error           { return nil }
func (nopReporter) ReportTrade(Trade) error         { return nil }
func (nopReporter) ReportError(string, error) error { return nil }
