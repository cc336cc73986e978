package net

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchcore/internal/common"
	"matchcore/internal/engine"
)

func TestFrame_Split(t *testing.T) {
	first, err := Frame([]byte("hello"))
	require.NoError(t, err)
	second, err := Frame([]byte{})
	require.NoError(t, err)
	stream := append(append([]byte{}, first...), second...)

	// Partial frames wait for more bytes.
	_, rest, ok := SplitFrame(stream[:4])
	assert.False(t, ok)
	assert.Len(t, rest, 4)

	payload, rest, ok := SplitFrame(stream)
	require.True(t, ok)
	assert.Equal(t, "hello", string(payload))
	payload, rest, ok = SplitFrame(rest)
	require.True(t, ok)
	assert.Empty(t, payload)
	assert.Empty(t, rest)

	_, err = Frame(make([]byte, MaxFrameLen+1))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestParseMessage_NewOrder(t *testing.T) {
	msg := NewOrderMessageFor(common.Sell, "AAPL", "alice", 150.25, 10)
	payload, err := msg.Serialize()
	require.NoError(t, err)
	assert.Len(t, payload, BaseMessageHeaderLen+NewOrderMessageHeaderLen+4+5)

	parsed, err := parseMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, msg, parsed)

	order, err := parsed.(NewOrderMessage).Order()
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID())
	assert.Equal(t, "alice", order.Owner())
	assert.Equal(t, "AAPL", order.Symbol())
	assert.Equal(t, common.Sell, order.Side())
	assert.Equal(t, "150.25", order.Price().String())
	assert.Equal(t, "10", order.Quantity().String())

	// Cut inside the username.
	_, err = parseMessage(payload[:len(payload)-1])
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestNewOrderMessage_InvalidOrders(t *testing.T) {
	for name, msg := range map[string]NewOrderMessage{
		"nan quantity":   NewOrderMessageFor(common.Buy, "AAPL", "", 1, math.NaN()),
		"zero quantity":  NewOrderMessageFor(common.Buy, "AAPL", "", 1, 0),
		"empty symbol":   NewOrderMessageFor(common.Buy, "", "", 1, 1),
		"bad side":       NewOrderMessageFor(common.Side(4), "AAPL", "", 1, 1),
		"negative price": NewOrderMessageFor(common.Buy, "AAPL", "", -1, 1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := msg.Order()
			assert.Error(t, err)
		})
	}
}

func TestParseMessage_CancelAndBook(t *testing.T) {
	payload, err := CancelOrderMessageFor("order-1").Serialize()
	require.NoError(t, err)
	parsed, err := parseMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, "order-1", parsed.(CancelOrderMessage).OrderID)

	payload, err = BookRequestMessageFor("MSFT").Serialize()
	require.NoError(t, err)
	parsed, err = parseMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, BookRequest, parsed.GetType())
	assert.Equal(t, "MSFT", parsed.(BookRequestMessage).Symbol)

	parsed, err = parseMessage([]byte{0, 0})
	require.NoError(t, err)
	assert.Equal(t, Heartbeat, parsed.GetType())

	_, err = parseMessage([]byte{0, 99})
	assert.ErrorIs(t, err, ErrInvalidMessageType)
	_, err = parseMessage([]byte{0})
	assert.ErrorIs(t, err, ErrMessageTooShort)
	_, err = parseMessage([]byte{0, 2, 5, 'a'})
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = CancelOrderMessageFor(string(make([]byte, 256))).Serialize()
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestReport_RoundTrip(t *testing.T) {
	report := Report{
		MessageType:  ExecutionReport,
		Side:         common.Sell,
		Timestamp:    42,
		Quantity:     2.5,
		Price:        99.75,
		OrderID:      "order-1",
		Symbol:       "AAPL",
		Counterparty: "bob",
	}
	payload, err := report.Serialize()
	require.NoError(t, err)

	parsed, err := ParseReport(payload)
	require.NoError(t, err)
	assert.Equal(t, report, parsed)

	_, err = ParseReport(payload[:len(payload)-3])
	assert.ErrorIs(t, err, ErrMessageTooShort)
	assert.Equal(t, "EXECUTION", ExecutionReport.String())
}

func TestGenerateTradeReports(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	buy, err := common.NewOrder("b1", "alice", "AAPL", common.Buy, decimal.NewFromInt(3), common.MustPrice("101"))
	require.NoError(t, err)
	sell, err := common.NewOrder("s1", "bob", "AAPL", common.Sell, decimal.NewFromInt(3), common.MustPrice("100"))
	require.NoError(t, err)
	trade, err := common.NewTrade(1, buy.Sequenced(2, at), sell.Sequenced(1, at), common.MustPrice("100"), decimal.NewFromInt(3), at)
	require.NoError(t, err)

	buyer, seller := generateTradeReports(trade)

	assert.Equal(t, "b1", buyer.OrderID)
	assert.Equal(t, "bob", buyer.Counterparty)
	assert.Equal(t, common.Buy, buyer.Side)
	assert.Equal(t, "s1", seller.OrderID)
	assert.Equal(t, "alice", seller.Counterparty)
	assert.Equal(t, 3.0, seller.Quantity)
	assert.Equal(t, 100.0, seller.Price)
	assert.Equal(t, at, seller.Time().UTC())
}

func TestGenerateLevelReports(t *testing.T) {
	levels := []engine.FlatPriceLevel{
		{Price: common.MustPrice("101"), Quantity: decimal.NewFromInt(7)},
		{Price: common.MustPrice("100.5"), Quantity: decimal.NewFromInt(2)},
	}
	reports := generateLevelReports("AAPL", common.Buy, levels, time.Now())
	require.Len(t, reports, 2)
	assert.Equal(t, LevelReport, reports[0].MessageType)
	assert.Equal(t, 101.0, reports[0].Price)
	assert.Equal(t, 7.0, reports[0].Quantity)
	assert.Equal(t, 100.5, reports[1].Price)
}
