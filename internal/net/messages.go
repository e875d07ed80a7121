package net

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	. "sleipnir/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrFieldTooLong       = errors.New("field too long for wire format")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	AmendOrder
	LogBook
)

type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
	AckReport
	CancelReport
)

type Message interface {
	GetType() MessageType
}

// Message format constants. Assets travel as 4 byte, NUL padded strings.
const (
	AssetLen                    = MaxAssetLen
	BaseMessageHeaderLen        = 2
	PairLen                     = 2 * AssetLen
	NewOrderMessageHeaderLen    = PairLen + 1 + 8 + 8 + 1
	CancelOrderMessageHeaderLen = PairLen + 1 + 8
	AmendOrderMessageHeaderLen  = CancelOrderMessageHeaderLen + 8 + 8
	LogBookMessageHeaderLen     = PairLen
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

// ReadMessage reads exactly one framed message off r.
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, BaseMessageHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	typeOf := MessageType(binary.BigEndian.Uint16(header))

	bodyLen, err := fixedBodyLen(typeOf)
	if err != nil {
		return nil, err
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMessageTooShort, err)
	}

	// New orders carry a trailing username.
	if typeOf == NewOrder {
		username := make([]byte, body[bodyLen-1])
		if _, err := io.ReadFull(r, username); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMessageTooShort, err)
		}
		body = append(body, username...)
	}

	return parseBody(typeOf, body)
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, fmt.Errorf("%w: no header", ErrMessageTooShort)
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	return parseBody(typeOf, msg[2:])
}

func fixedBodyLen(typeOf MessageType) (int, error) {
	switch typeOf {
	case Heartbeat:
		return 0, nil
	case NewOrder:
		return NewOrderMessageHeaderLen, nil
	case CancelOrder:
		return CancelOrderMessageHeaderLen, nil
	case AmendOrder:
		return AmendOrderMessageHeaderLen, nil
	case LogBook:
		return LogBookMessageHeaderLen, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidMessageType, typeOf)
}

func parseBody(typeOf MessageType, msg []byte) (Message, error) {
	switch typeOf {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	case AmendOrder:
		return parseAmendOrder(msg)
	case LogBook:
		return parseLogBook(msg)
	default:
		return BaseMessage{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, typeOf)
	}
}

type NewOrderMessage struct {
	BaseMessage
	Pair        Pair    // 8 bytes
	Side        Side    // 1 byte
	LimitPrice  float64 // 8 bytes
	Quantity    float64 // 8 bytes
	UsernameLen uint8   // 1 byte
	Username    string  // n bytes
}

// Order converts the message into an order arriving on the given session.
func (m *NewOrderMessage) Order(session string) Order {
	return Order{
		Pair:     m.Pair,
		Side:     m.Side,
		Price:    m.LimitPrice,
		Quantity: m.Quantity,
		Owner:    m.Username,
		Session:  session,
	}
}

func (m *NewOrderMessage) Serialize() ([]byte, error) {
	if len(m.Username) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: username", ErrFieldTooLong)
	}
	buf := make([]byte, BaseMessageHeaderLen+NewOrderMessageHeaderLen+len(m.Username))
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	body := buf[BaseMessageHeaderLen:]
	putPair(body[0:8], m.Pair)
	body[8] = byte(m.Side)
	binary.BigEndian.PutUint64(body[9:17], math.Float64bits(m.LimitPrice))
	binary.BigEndian.PutUint64(body[17:25], math.Float64bits(m.Quantity))
	body[25] = uint8(len(m.Username))
	copy(body[26:], m.Username)
	return buf, nil
}

func parseNewOrder(msg []byte) (*NewOrderMessage, error) {
	if len(msg) < NewOrderMessageHeaderLen {
		return nil, ErrMessageTooShort
	}
	m := &NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}

	m.Pair = readPair(msg[0:8])
	m.Side = Side(msg[8])
	m.LimitPrice = math.Float64frombits(binary.BigEndian.Uint64(msg[9:17]))
	m.Quantity = math.Float64frombits(binary.BigEndian.Uint64(msg[17:25]))
	m.UsernameLen = msg[25]

	// Calculate expected total length.
	expectedTotalLen := NewOrderMessageHeaderLen + int(m.UsernameLen)
	if len(msg) < expectedTotalLen {
		return nil, fmt.Errorf("%w: username", ErrMessageTooShort)
	}
	m.Username = string(msg[26:expectedTotalLen])

	return m, nil
}

type CancelOrderMessage struct {
	BaseMessage
	Pair    Pair   // 8 bytes
	Side    Side   // 1 byte
	OrderID uint64 // 8 bytes
}

func (m *CancelOrderMessage) Serialize() ([]byte, error) {
	buf := make([]byte, BaseMessageHeaderLen+CancelOrderMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrder))
	putOrderRef(buf[BaseMessageHeaderLen:], m.Pair, m.Side, m.OrderID)
	return buf, nil
}

func parseCancelOrder(msg []byte) (*CancelOrderMessage, error) {
	if len(msg) < CancelOrderMessageHeaderLen {
		return nil, ErrMessageTooShort
	}
	m := &CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
	m.Pair, m.Side, m.OrderID = readOrderRef(msg)
	return m, nil
}

type AmendOrderMessage struct {
	BaseMessage
	Pair       Pair    // 8 bytes
	Side       Side    // 1 byte
	OrderID    uint64  // 8 bytes
	LimitPrice float64 // 8 bytes
	Quantity   float64 // 8 bytes, new remaining quantity
}

func (m *AmendOrderMessage) Serialize() ([]byte, error) {
	buf := make([]byte, BaseMessageHeaderLen+AmendOrderMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(AmendOrder))
	body := buf[BaseMessageHeaderLen:]
	putOrderRef(body, m.Pair, m.Side, m.OrderID)
	binary.BigEndian.PutUint64(body[17:25], math.Float64bits(m.LimitPrice))
	binary.BigEndian.PutUint64(body[25:33], math.Float64bits(m.Quantity))
	return buf, nil
}

func parseAmendOrder(msg []byte) (*AmendOrderMessage, error) {
	if len(msg) < AmendOrderMessageHeaderLen {
		return nil, ErrMessageTooShort
	}
	m := &AmendOrderMessage{BaseMessage: BaseMessage{TypeOf: AmendOrder}}
	m.Pair, m.Side, m.OrderID = readOrderRef(msg)
	m.LimitPrice = math.Float64frombits(binary.BigEndian.Uint64(msg[17:25]))
	m.Quantity = math.Float64frombits(binary.BigEndian.Uint64(msg[25:33]))
	return m, nil
}

type LogBookMessage struct {
	BaseMessage
	Pair Pair // 8 bytes
}

func (m *LogBookMessage) Serialize() ([]byte, error) {
	buf := make([]byte, BaseMessageHeaderLen+LogBookMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(LogBook))
	putPair(buf[BaseMessageHeaderLen:], m.Pair)
	return buf, nil
}

func parseLogBook(msg []byte) (*LogBookMessage, error) {
	if len(msg) < LogBookMessageHeaderLen {
		return nil, ErrMessageTooShort
	}
	return &LogBookMessage{
		BaseMessage: BaseMessage{TypeOf: LogBook},
		Pair:        readPair(msg[0:8]),
	}, nil
}

// SerializeHeartbeat returns a heartbeat frame.
func SerializeHeartbeat() []byte {
	buf := make([]byte, BaseMessageHeaderLen)
	binary.BigEndian.PutUint16(buf, uint16(Heartbeat))
	return buf
}

type Report struct {
	MessageType  ReportMessageType // 1 byte
	Side         Side              // 1 byte
	Timestamp    uint64            // 8 bytes, unix nanoseconds
	OrderID      uint64            // 8 bytes
	Quantity     float64           // 8 bytes
	Price        float64           // 8 bytes
	Pair         Pair              // 8 bytes
	Err          string            // n bytes, length prefixed (4 bytes)
	Counterparty string            // n bytes, length prefixed (2 bytes)
}

const ReportFixedHeaderLen = 1 + 1 + 8 + 8 + 8 + 8 + 2 + 4 + PairLen

// MaxReportErrLen bounds the error string of a report. The length prefix is
// 4 bytes wide, but nothing the server says needs more than this.
const MaxReportErrLen = 1 << 12

// Serialize converts the report to be sent on the wire.
func (r *Report) Serialize() ([]byte, error) {
	if len(r.Counterparty) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: counterparty", ErrFieldTooLong)
	}
	if len(r.Err) > MaxReportErrLen {
		return nil, fmt.Errorf("%w: error string", ErrFieldTooLong)
	}
	totalSize := ReportFixedHeaderLen + len(r.Err) + len(r.Counterparty)

	buf := make([]byte, totalSize)
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], r.Timestamp)
	binary.BigEndian.PutUint64(buf[10:18], r.OrderID)
	binary.BigEndian.PutUint64(buf[18:26], math.Float64bits(r.Quantity))
	binary.BigEndian.PutUint64(buf[26:34], math.Float64bits(r.Price))
	binary.BigEndian.PutUint16(buf[34:36], uint16(len(r.Counterparty)))
	binary.BigEndian.PutUint32(buf[36:40], uint32(len(r.Err)))
	putPair(buf[40:48], r.Pair)

	offset := ReportFixedHeaderLen
	offset += copy(buf[offset:], r.Err)
	copy(buf[offset:], r.Counterparty)
	return buf, nil
}

// ReadReport reads exactly one report off r.
func ReadReport(r io.Reader) (Report, error) {
	header := make([]byte, ReportFixedHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return Report{}, err
	}

	report := Report{
		MessageType: ReportMessageType(header[0]),
		Side:        Side(header[1]),
		Timestamp:   binary.BigEndian.Uint64(header[2:10]),
		OrderID:     binary.BigEndian.Uint64(header[10:18]),
		Quantity:    math.Float64frombits(binary.BigEndian.Uint64(header[18:26])),
		Price:       math.Float64frombits(binary.BigEndian.Uint64(header[26:34])),
		Pair:        readPair(header[40:48]),
	}
	counterpartyLen := int(binary.BigEndian.Uint16(header[34:36]))
	errStrLen := binary.BigEndian.Uint32(header[36:40])
	if errStrLen > MaxReportErrLen {
		return Report{}, fmt.Errorf("%w: error string of %d bytes", ErrFieldTooLong, errStrLen)
	}

	varBuf := make([]byte, int(errStrLen)+counterpartyLen)
	if _, err := io.ReadFull(r, varBuf); err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrMessageTooShort, err)
	}
	report.Err = string(varBuf[:errStrLen])
	report.Counterparty = string(varBuf[errStrLen:])
	return report, nil
}

// generateWireTradeReports generates both trade reports required addressable to
// the respective counterparty.
func generateWireTradeReports(trade Trade) ([]byte, []byte, error) {
	// Helper to create a report.
	createReport := func(party, counterParty Order) Report {
		return Report{
			MessageType:  ExecutionReport,
			Side:         party.Side,
			Timestamp:    uint64(trade.Timestamp.UnixNano()),
			OrderID:      party.ID,
			Quantity:     trade.MatchQty,
			Price:        trade.Price,
			Pair:         party.Pair,
			Counterparty: counterParty.Owner,
		}
	}

	// Create struct representations
	r1 := createReport(trade.Party, trade.CounterParty)
	r2 := createReport(trade.CounterParty, trade.Party)

	// Serialize to []byte
	b1, err := r1.Serialize()
	if err != nil {
		return nil, nil, err
	}

	b2, err := r2.Serialize()
	if err != nil {
		return nil, nil, err
	}

	return b1, b2, nil
}

// generateWireOrderReport reports the state of one of the client's orders,
// either resting (ack) or removed (cancel).
func generateWireOrderReport(typeOf ReportMessageType, order Order) ([]byte, error) {
	report := Report{
		MessageType: typeOf,
		Side:        order.Side,
		Timestamp:   uint64(order.Timestamp.UnixNano()),
		OrderID:     order.ID,
		Quantity:    order.Quantity,
		Price:       order.Price,
		Pair:        order.Pair,
	}
	return report.Serialize()
}

// generateWireErrorReport reports a failed request. Overlong error strings
// are cut to MaxReportErrLen.
func generateWireErrorReport(err error) ([]byte, error) {
	msg := err.Error()
	if len(msg) > MaxReportErrLen {
		msg = msg[:MaxReportErrLen]
	}
	report := Report{
		MessageType: ErrorReport,
		Timestamp:   uint64(time.Now().UnixNano()),
		Err:         msg,
	}
	return report.Serialize()
}

// ---- Encoding helpers ----

func putAsset(buf []byte, asset string) {
	clear(buf[:AssetLen])
	copy(buf[:AssetLen], asset)
}

func readAsset(buf []byte) string {
	return string(bytes.TrimRight(buf[:AssetLen], "\x00"))
}

func putPair(buf []byte, pair Pair) {
	putAsset(buf[0:AssetLen], pair.OrderAsset)
	putAsset(buf[AssetLen:PairLen], pair.PriceAsset)
}

func readPair(buf []byte) Pair {
	return NewPair(readAsset(buf[0:AssetLen]), readAsset(buf[AssetLen:PairLen]))
}

func putOrderRef(buf []byte, pair Pair, side Side, id uint64) {
	putPair(buf[0:8], pair)
	buf[8] = byte(side)
	binary.BigEndian.PutUint64(buf[9:17], id)
}

func readOrderRef(buf []byte) (Pair, Side, uint64) {
	return readPair(buf[0:8]), Side(buf[8]), binary.BigEndian.Uint64(buf[9:17])
}
