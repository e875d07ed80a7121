package net

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "sleipnir/internal/common"
)

var testPair = NewPair("BTC", "USDT")

func TestReadMessage_Stream(t *testing.T) {
	// 1. Setup: several frames back to back on one stream.
	newOrder := &NewOrderMessage{
		BaseMessage: BaseMessage{TypeOf: NewOrder},
		Pair:        testPair,
		Side:        Sell,
		LimitPrice:  101.5,
		Quantity:    0.25,
		UsernameLen: 5,
		Username:    "alice",
	}
	cancel := &CancelOrderMessage{
		BaseMessage: BaseMessage{TypeOf: CancelOrder},
		Pair:        testPair,
		Side:        Buy,
		OrderID:     42,
	}
	amend := &AmendOrderMessage{
		BaseMessage: BaseMessage{TypeOf: AmendOrder},
		Pair:        testPair,
		Side:        Sell,
		OrderID:     7,
		LimitPrice:  99,
		Quantity:    3,
	}
	logBook := &LogBookMessage{BaseMessage: BaseMessage{TypeOf: LogBook}, Pair: testPair}

	var stream bytes.Buffer
	for _, m := range []interface{ Serialize() ([]byte, error) }{newOrder, cancel, amend, logBook} {
		b, err := m.Serialize()
		require.NoError(t, err)
		stream.Write(b)
	}
	stream.Write(SerializeHeartbeat())

	// 2. Assertions
	for _, want := range []Message{newOrder, cancel, amend, logBook, BaseMessage{TypeOf: Heartbeat}} {
		got, err := ReadMessage(&stream)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ReadMessage(&stream)
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewOrderMessage_Order(t *testing.T) {
	m := &NewOrderMessage{Pair: testPair, Side: Buy, LimitPrice: 10, Quantity: 2, Username: "bob"}

	assert.Equal(t, Order{
		Pair:     testPair,
		Side:     Buy,
		Price:    10,
		Quantity: 2,
		Owner:    "bob",
		Session:  "127.0.0.1:5000",
	}, m.Order("127.0.0.1:5000"))
}

func TestParseMessage_Errors(t *testing.T) {
	_, err := parseMessage([]byte{0})
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = parseMessage([]byte{0, 99})
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	// Cancel body cut short.
	_, err = parseMessage([]byte{0, byte(CancelOrder), 'B', 'T', 'C'})
	assert.ErrorIs(t, err, ErrMessageTooShort)

	// New order announcing a longer username than it carries.
	b, err := (&NewOrderMessage{Pair: testPair, Username: "carol"}).Serialize()
	require.NoError(t, err)
	_, err = parseMessage(b[:len(b)-2])
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = ReadMessage(bytes.NewReader(b[:len(b)-2]))
	assert.ErrorIs(t, err, ErrMessageTooShort)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestAssetsArePadded(t *testing.T) {
	b, err := (&LogBookMessage{Pair: NewPair("SOL", "USDCX")}).Serialize()
	require.NoError(t, err)

	m, err := parseMessage(b)
	require.NoError(t, err)
	assert.Equal(t, NewPair("SOL", "USDC"), m.(*LogBookMessage).Pair, "assets are cut to 4 bytes")
}

func TestReport_Serialize(t *testing.T) {
	ts := time.Unix(1_700_000_000, 500)
	trade := Trade{
		ID:           "trade-1",
		Party:        Order{ID: 2, Pair: testPair, Side: Buy, Owner: "alice"},
		CounterParty: Order{ID: 1, Pair: testPair, Side: Sell, Owner: "bob"},
		Timestamp:    ts,
		MatchQty:     1.5,
		Price:        100,
	}

	b1, b2, err := generateWireTradeReports(trade)
	require.NoError(t, err)

	r1, err := ReadReport(bytes.NewReader(b1))
	require.NoError(t, err)
	assert.Equal(t, Report{
		MessageType:  ExecutionReport,
		Side:         Buy,
		Timestamp:    uint64(ts.UnixNano()),
		OrderID:      2,
		Quantity:     1.5,
		Price:        100,
		Pair:         testPair,
		Counterparty: "bob",
	}, r1)

	r2, err := ReadReport(bytes.NewReader(b2))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r2.OrderID)
	assert.Equal(t, Sell, r2.Side)
	assert.Equal(t, "alice", r2.Counterparty)

	b, err := generateWireErrorReport(errors.New("order rejection"))
	require.NoError(t, err)
	r, err := ReadReport(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, ErrorReport, r.MessageType)
	assert.Equal(t, "order rejection", r.Err)
	assert.Len(t, b, ReportFixedHeaderLen+len("order rejection"))
}

func TestSerialize_FieldTooLong(t *testing.T) {
	_, err := (&NewOrderMessage{Username: string(make([]byte, 256))}).Serialize()
	assert.ErrorIs(t, err, ErrFieldTooLong)

	_, err = (&Report{Counterparty: string(make([]byte, 1<<16))}).Serialize()
	assert.ErrorIs(t, err, ErrFieldTooLong)

	_, err = (&Report{Err: strings.Repeat("x", MaxReportErrLen+1)}).Serialize()
	assert.ErrorIs(t, err, ErrFieldTooLong)
}

func TestReadReport_ErrorLengthIsBounded(t *testing.T) {
	// 1. A header announcing a 4 GiB error string is refused before any
	// allocation for the body.
	header := make([]byte, ReportFixedHeaderLen)
	header[0] = byte(ErrorReport)
	binary.BigEndian.PutUint32(header[36:40], math.MaxUint32)

	_, err := ReadReport(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrFieldTooLong)

	// 2. Overlong errors produced by the server are cut to fit.
	b, err := generateWireErrorReport(errors.New(strings.Repeat("e", 2*MaxReportErrLen)))
	require.NoError(t, err)
	r, err := ReadReport(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Len(t, r.Err, MaxReportErrLen)
}
