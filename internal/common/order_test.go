package common

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(t *testing.T, quantity int64) Order {
	t.Helper()
	order, err := NewOrder("", "alice", "AAPL", Buy, decimal.NewFromInt(quantity), MustPrice("150"))
	require.NoError(t, err)
	return order
}

func TestNewOrder(t *testing.T) {
	order := newTestOrder(t, 10)

	_, err := uuid.Parse(order.ID())
	assert.NoError(t, err, "generated ids are uuids")
	assert.Equal(t, "alice", order.Owner())
	assert.Equal(t, "AAPL", order.Symbol())
	assert.Equal(t, Buy, order.Side())
	assert.Equal(t, New, order.Status())
	assert.True(t, order.Quantity().Equal(order.OriginalQuantity()))
	assert.Zero(t, order.Sequence())
	assert.True(t, order.IsLive())

	other := newTestOrder(t, 10)
	assert.NotEqual(t, order.ID(), other.ID())

	given, err := NewOrder("my-id", "", "AAPL", Sell, decimal.NewFromInt(1), MustPrice("1"))
	require.NoError(t, err)
	assert.Equal(t, "my-id", given.ID())
}

func TestNewOrder_Invalid(t *testing.T) {
	one := decimal.NewFromInt(1)
	cases := []struct {
		name     string
		symbol   string
		side     Side
		quantity decimal.Decimal
		price    Price
	}{
		{"zero quantity", "AAPL", Buy, decimal.Zero, MustPrice("1")},
		{"negative quantity", "AAPL", Buy, decimal.NewFromInt(-1), MustPrice("1")},
		{"empty symbol", "", Buy, one, MustPrice("1")},
		{"zero price", "AAPL", Sell, one, Price{}},
		{"unknown side", "AAPL", Side(7), one, MustPrice("1")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewOrder("", "", tc.symbol, tc.side, tc.quantity, tc.price)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestOrder_ReduceQuantity(t *testing.T) {
	order := newTestOrder(t, 10)

	require.NoError(t, order.ReduceQuantity(decimal.NewFromInt(4)))
	assert.Equal(t, PartiallyFilled, order.Status())
	assert.Equal(t, "6", order.Quantity().String())
	assert.Equal(t, "4", order.FilledQuantity().String())

	err := order.ReduceQuantity(decimal.NewFromInt(7))
	assert.ErrorIs(t, err, ErrInvalidOperation)
	assert.Equal(t, "6", order.Quantity().String(), "failed reduce leaves the order alone")

	assert.ErrorIs(t, order.ReduceQuantity(decimal.Zero), ErrInvalidOperation)

	require.NoError(t, order.ReduceQuantity(decimal.NewFromInt(6)))
	assert.Equal(t, Filled, order.Status())
	assert.False(t, order.IsLive())

	// Terminal.
	assert.ErrorIs(t, order.ReduceQuantity(decimal.NewFromInt(1)), ErrInvalidOperation)
	assert.ErrorIs(t, order.Cancel(), ErrInvalidOperation)
}

func TestOrder_StateMachine(t *testing.T) {
	t.Run("cancel from new and partial", func(t *testing.T) {
		order := newTestOrder(t, 10)
		require.NoError(t, order.Cancel())
		assert.Equal(t, Cancelled, order.Status())
		assert.ErrorIs(t, order.Cancel(), ErrInvalidOperation)

		partial := newTestOrder(t, 10)
		require.NoError(t, partial.ReduceQuantity(decimal.NewFromInt(1)))
		require.NoError(t, partial.Cancel())
	})

	t.Run("reject only before resting", func(t *testing.T) {
		order := newTestOrder(t, 10)
		require.NoError(t, order.Reject())
		assert.Equal(t, Rejected, order.Status())
		assert.ErrorIs(t, order.SetStatus(New), ErrInvalidOperation)

		resting := newTestOrder(t, 10).Sequenced(3, time.Now())
		assert.ErrorIs(t, resting.Reject(), ErrInvalidOperation)
	})

	t.Run("fill states must match quantity", func(t *testing.T) {
		order := newTestOrder(t, 10)
		assert.ErrorIs(t, order.SetStatus(Filled), ErrInvalidOperation)
		assert.ErrorIs(t, order.SetStatus(PartiallyFilled), ErrInvalidOperation)
		assert.ErrorIs(t, order.SetStatus(New), ErrInvalidOperation)
	})

	assert.True(t, Filled.Terminal())
	assert.True(t, Rejected.Terminal())
	assert.False(t, PartiallyFilled.Terminal())
	assert.False(t, CanTransition(Cancelled, New))
	assert.True(t, CanTransition(New, Rejected))
	assert.False(t, CanTransition(PartiallyFilled, Rejected))
}

func TestOrder_Sequenced(t *testing.T) {
	order := newTestOrder(t, 10)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	stamped := order.Sequenced(42, at)

	assert.Equal(t, uint64(42), stamped.Sequence())
	assert.Equal(t, at, stamped.AcceptedAt())
	assert.Zero(t, order.Sequence())
	assert.Equal(t, order.ID(), stamped.ID())
}

func TestOrderRecord(t *testing.T) {
	order := newTestOrder(t, 10).Sequenced(5, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, order.ReduceQuantity(decimal.NewFromInt(3)))

	restored, err := OrderFromRecord(order.Record())
	require.NoError(t, err)
	assert.Equal(t, order.ID(), restored.ID())
	assert.Equal(t, PartiallyFilled, restored.Status())
	assert.Equal(t, "7", restored.Quantity().String())
	assert.Equal(t, uint64(5), restored.Sequence())

	bad := order.Record()
	bad.Status = Filled.String()
	_, err = OrderFromRecord(bad)
	assert.ErrorIs(t, err, ErrInvalidOrder, "filled with quantity left")

	bad = order.Record()
	bad.Quantity = decimal.NewFromInt(11)
	_, err = OrderFromRecord(bad)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	bad = order.Record()
	bad.Status = "HALF_DONE"
	_, err = OrderFromRecord(bad)
	assert.ErrorIs(t, err, ErrInvalidValue)

	bad = order.Record()
	bad.ID = ""
	_, err = OrderFromRecord(bad)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}
