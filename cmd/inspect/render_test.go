package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchcore/internal/common"
	"matchcore/internal/engine"
)

func TestRenderBook(t *testing.T) {
	market := engine.NewMarket()
	place := func(owner string, side common.Side, price string, quantity int64) []common.Trade {
		order, err := common.NewOrder("", owner, "AAPL", side, decimal.NewFromInt(quantity), common.MustPrice(price))
		require.NoError(t, err)
		trades, err := market.PlaceOrder(order)
		require.NoError(t, err)
		return trades
	}
	place("bob", common.Sell, "101.5", 10)
	place("carol", common.Buy, "99", 3)
	trades := place("alice", common.Buy, "102", 4)

	book, err := market.OrderBook("AAPL")
	require.NoError(t, err)
	out := renderBook(book, trades)

	assert.Contains(t, out, "Order book AAPL (2 orders)")
	assert.Contains(t, out, "101.5")
	assert.Contains(t, out, "99")
	assert.Contains(t, out, "alice <- bob")

	positions := renderPositions(market.AllPositions())
	assert.Contains(t, positions, "alice")
	assert.Contains(t, positions, "-4")
}

func TestRecentTrades(t *testing.T) {
	market := engine.NewMarket()
	for i := 0; i < 3; i++ {
		for _, symbol := range []string{"AAPL", "MSFT"} {
			sell, err := common.NewOrder("", "", symbol, common.Sell, decimal.NewFromInt(1), common.MustPrice("10"))
			require.NoError(t, err)
			buy, err := common.NewOrder("", "", symbol, common.Buy, decimal.NewFromInt(1), common.MustPrice("10"))
			require.NoError(t, err)
			_, err = market.PlaceOrder(sell)
			require.NoError(t, err)
			_, err = market.PlaceOrder(buy)
			require.NoError(t, err)
		}
	}
	all := append(market.TradesForSymbol("AAPL"), market.TradesForSymbol("MSFT")...)

	recent := recentTrades(all, "MSFT", 2)
	require.Len(t, recent, 2)
	for _, trade := range recent {
		assert.Equal(t, "MSFT", trade.Symbol())
	}
	assert.Equal(t, uint64(3), recent[1].Sequence())
	assert.Empty(t, recentTrades(all, "TSLA", 5))
}
