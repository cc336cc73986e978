package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"matchcore/internal/common"
	"matchcore/internal/engine"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrMessageTooLong     = errors.New("message too long")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	BookRequest
)

type ReportMessageType uint8

const (
	AckReport ReportMessageType = iota
	ExecutionReport
	CancelledReport
	ErrorReport
	LevelReport
)

func (r ReportMessageType) String() string {
	switch r {
	case AckReport:
		return "ACK"
	case ExecutionReport:
		return "EXECUTION"
	case CancelledReport:
		return "CANCELLED"
	case ErrorReport:
		return "ERROR"
	case LevelReport:
		return "LEVEL"
	}
	return fmt.Sprintf("ReportMessageType(%d)", uint8(r))
}

type Message interface {
	GetType() MessageType
}

// Message format constants
const (
	FrameHeaderLen              = 2
	MaxFrameLen                 = math.MaxUint16
	BaseMessageHeaderLen        = 2
	NewOrderMessageHeaderLen    = 1 + 8 + 8 + 1 + 1
	CancelOrderMessageHeaderLen = 1
	BookRequestMessageHeaderLen = 1
)

// Frame prefixes a payload with its 2 byte length.
func Frame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameLen {
		return nil, fmt.Errorf("%w: %d byte payload", ErrMessageTooLong, len(payload))
	}
	buf := make([]byte, FrameHeaderLen, FrameHeaderLen+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	return append(buf, payload...), nil
}

// SplitFrame takes the first complete frame off buf. ok is false until the
// whole frame has arrived.
func SplitFrame(buf []byte) (payload, rest []byte, ok bool) {
	if len(buf) < FrameHeaderLen {
		return nil, buf, false
	}
	n := int(binary.BigEndian.Uint16(buf[0:2]))
	if len(buf) < FrameHeaderLen+n {
		return nil, buf, false
	}
	return buf[FrameHeaderLen : FrameHeaderLen+n], buf[FrameHeaderLen+n:], true
}

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func (m BaseMessage) header() []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(m.TypeOf))
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, fmt.Errorf("%w: no header", ErrMessageTooShort)
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	case BookRequest:
		return parseBookRequest(msg)
	default:
		return BaseMessage{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, typeOf)
	}
}

type NewOrderMessage struct {
	BaseMessage
	Side        common.Side // 1 byte
	LimitPrice  float64     // 8 bytes
	Quantity    float64     // 8 bytes
	SymbolLen   uint8       // 1 byte
	UsernameLen uint8       // 1 byte
	Symbol      string      // n bytes
	Username    string      // n bytes
}

func NewOrderMessageFor(side common.Side, symbol, username string, price, quantity float64) NewOrderMessage {
	return NewOrderMessage{
		BaseMessage: BaseMessage{TypeOf: NewOrder},
		Side:        side,
		LimitPrice:  price,
		Quantity:    quantity,
		SymbolLen:   uint8(len(symbol)),
		UsernameLen: uint8(len(username)),
		Symbol:      symbol,
		Username:    username,
	}
}

// Order builds the order the message asks for, under a fresh id.
func (m NewOrderMessage) Order() (common.Order, error) {
	if math.IsNaN(m.Quantity) || math.IsInf(m.Quantity, 0) {
		return common.Order{}, fmt.Errorf("%w: quantity %v", common.ErrInvalidOrder, m.Quantity)
	}
	price, err := common.NewPrice(m.LimitPrice)
	if err != nil {
		return common.Order{}, err
	}
	return common.NewOrder("", m.Username, m.Symbol, m.Side, decimal.NewFromFloat(m.Quantity), price)
}

func (m NewOrderMessage) Serialize() ([]byte, error) {
	if len(m.Symbol) > math.MaxUint8 || len(m.Username) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: symbol or username over 255 bytes", ErrMessageTooLong)
	}
	buf := m.header()
	buf = append(buf, byte(m.Side))
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(m.LimitPrice))
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(m.Quantity))
	buf = append(buf, uint8(len(m.Symbol)), uint8(len(m.Username)))
	buf = append(buf, m.Symbol...)
	return append(buf, m.Username...), nil
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	if len(msg) < NewOrderMessageHeaderLen {
		return NewOrderMessage{}, fmt.Errorf("%w: new order header", ErrMessageTooShort)
	}

	m.Side = common.Side(msg[0])
	m.LimitPrice = math.Float64frombits(binary.BigEndian.Uint64(msg[1:9]))
	m.Quantity = math.Float64frombits(binary.BigEndian.Uint64(msg[9:17]))
	m.SymbolLen = msg[17]
	m.UsernameLen = msg[18]

	// Calculate expected total length.
	expectedTotalLen := NewOrderMessageHeaderLen + int(m.SymbolLen) + int(m.UsernameLen)
	if len(msg) < expectedTotalLen {
		return NewOrderMessage{}, fmt.Errorf("%w: new order wants %d bytes, got %d", ErrMessageTooShort, expectedTotalLen, len(msg))
	}
	offset := NewOrderMessageHeaderLen
	m.Symbol = string(msg[offset : offset+int(m.SymbolLen)])
	offset += int(m.SymbolLen)
	m.Username = string(msg[offset : offset+int(m.UsernameLen)])

	return m, nil
}

type CancelOrderMessage struct {
	BaseMessage
	IDLen   uint8  // 1 byte
	OrderID string // n bytes
}

func CancelOrderMessageFor(id string) CancelOrderMessage {
	return CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}, IDLen: uint8(len(id)), OrderID: id}
}

func (m CancelOrderMessage) Serialize() ([]byte, error) {
	if len(m.OrderID) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: order id over 255 bytes", ErrMessageTooLong)
	}
	buf := append(m.header(), uint8(len(m.OrderID)))
	return append(buf, m.OrderID...), nil
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}

	if len(msg) < CancelOrderMessageHeaderLen {
		return CancelOrderMessage{}, fmt.Errorf("%w: cancel header", ErrMessageTooShort)
	}
	m.IDLen = msg[0]
	if len(msg) < CancelOrderMessageHeaderLen+int(m.IDLen) {
		return CancelOrderMessage{}, fmt.Errorf("%w: cancel order id", ErrMessageTooShort)
	}
	m.OrderID = string(msg[1 : 1+int(m.IDLen)])

	return m, nil
}

type BookRequestMessage struct {
	BaseMessage
	SymbolLen uint8  // 1 byte
	Symbol    string // n bytes
}

func BookRequestMessageFor(symbol string) BookRequestMessage {
	return BookRequestMessage{BaseMessage: BaseMessage{TypeOf: BookRequest}, SymbolLen: uint8(len(symbol)), Symbol: symbol}
}

func (m BookRequestMessage) Serialize() ([]byte, error) {
	if len(m.Symbol) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: symbol over 255 bytes", ErrMessageTooLong)
	}
	buf := append(m.header(), uint8(len(m.Symbol)))
	return append(buf, m.Symbol...), nil
}

func parseBookRequest(msg []byte) (BookRequestMessage, error) {
	m := BookRequestMessage{BaseMessage: BaseMessage{TypeOf: BookRequest}}

	if len(msg) < BookRequestMessageHeaderLen {
		return BookRequestMessage{}, fmt.Errorf("%w: book request header", ErrMessageTooShort)
	}
	m.SymbolLen = msg[0]
	if len(msg) < BookRequestMessageHeaderLen+int(m.SymbolLen) {
		return BookRequestMessage{}, fmt.Errorf("%w: book request symbol", ErrMessageTooShort)
	}
	m.Symbol = string(msg[1 : 1+int(m.SymbolLen)])

	return m, nil
}

type Report struct {
	MessageType  ReportMessageType // 1 byte
	Side         common.Side       // 1 byte
	Timestamp    uint64            // 8 bytes, unix nanoseconds
	Quantity     float64           // 8 bytes
	Price        float64           // 8 bytes
	OrderID      string            // 2 + n bytes
	Symbol       string            // 2 + n bytes
	Counterparty string            // 2 + n bytes (in this case we show who)
	Err          string            // 2 + n bytes
}

const reportFixedHeaderLen = 1 + 1 + 8 + 8 + 8

// Serialize converts the report to be sent on the wire, without framing.
func (r *Report) Serialize() ([]byte, error) {
	buf := make([]byte, reportFixedHeaderLen, reportFixedHeaderLen+8+len(r.OrderID)+len(r.Symbol)+len(r.Counterparty)+len(r.Err))
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], r.Timestamp)
	binary.BigEndian.PutUint64(buf[10:18], math.Float64bits(r.Quantity))
	binary.BigEndian.PutUint64(buf[18:26], math.Float64bits(r.Price))

	for _, s := range []string{r.OrderID, r.Symbol, r.Counterparty, r.Err} {
		if len(s) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: report field of %d bytes", ErrMessageTooLong, len(s))
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	return buf, nil
}

func ParseReport(msg []byte) (Report, error) {
	if len(msg) < reportFixedHeaderLen {
		return Report{}, fmt.Errorf("%w: report header", ErrMessageTooShort)
	}
	r := Report{
		MessageType: ReportMessageType(msg[0]),
		Side:        common.Side(msg[1]),
		Timestamp:   binary.BigEndian.Uint64(msg[2:10]),
		Quantity:    math.Float64frombits(binary.BigEndian.Uint64(msg[10:18])),
		Price:       math.Float64frombits(binary.BigEndian.Uint64(msg[18:26])),
	}

	rest := msg[reportFixedHeaderLen:]
	for _, field := range []*string{&r.OrderID, &r.Symbol, &r.Counterparty, &r.Err} {
		if len(rest) < 2 {
			return Report{}, fmt.Errorf("%w: report field length", ErrMessageTooShort)
		}
		n := int(binary.BigEndian.Uint16(rest[0:2]))
		if len(rest) < 2+n {
			return Report{}, fmt.Errorf("%w: report field", ErrMessageTooShort)
		}
		*field = string(rest[2 : 2+n])
		rest = rest[2+n:]
	}
	return r, nil
}

func (r Report) Time() time.Time {
	return time.Unix(0, int64(r.Timestamp))
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// generateTradeReports generates both trade reports required addressable to
// the respective counterparty.
func generateTradeReports(trade common.Trade) (buyer, seller Report) {
	// Helper to create a report.
	createReport := func(side common.Side, id, counterparty string) Report {
		return Report{
			MessageType:  ExecutionReport,
			Side:         side,
			Timestamp:    uint64(trade.Timestamp().UnixNano()),
			Quantity:     toFloat(trade.Quantity()),
			Price:        trade.Price().Float64(),
			OrderID:      id,
			Symbol:       trade.Symbol(),
			Counterparty: counterparty,
		}
	}
	return createReport(common.Buy, trade.BuyOrderID(), trade.SellOwner()),
		createReport(common.Sell, trade.SellOrderID(), trade.BuyOwner())
}

func orderReport(typeOf ReportMessageType, order common.Order, at time.Time) Report {
	return Report{
		MessageType: typeOf,
		Side:        order.Side(),
		Timestamp:   uint64(at.UnixNano()),
		Quantity:    toFloat(order.Quantity()),
		Price:       order.Price().Float64(),
		OrderID:     order.ID(),
		Symbol:      order.Symbol(),
	}
}

// generateLevelReports describes one side of a book, best price first.
func generateLevelReports(symbol string, side common.Side, levels []engine.FlatPriceLevel, at time.Time) []Report {
	reports := make([]Report, 0, len(levels))
	for _, level := range levels {
		reports = append(reports, Report{
			MessageType: LevelReport,
			Side:        side,
			Timestamp:   uint64(at.UnixNano()),
			Quantity:    toFloat(level.Quantity),
			Price:       level.Price.Float64(),
			Symbol:      symbol,
		})
	}
	return reports
}

func generateErrorReport(orderID string, err error, at time.Time) Report {
	return Report{
		MessageType: ErrorReport,
		Timestamp:   uint64(at.UnixNano()),
		OrderID:     orderID,
		Err:         err.Error(),
	}
}
