package journal

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"matchcore/internal/engine"
)

type ReplayStats struct {
	Orders int
	Trades int
}

// Replay rebuilds market from the journal. Open orders go back on their
// books in arrival order without matching, then every recorded trade is
// re-applied to positions. The market should be empty.
func Replay(market *engine.Market, store *Store) (ReplayStats, error) {
	var stats ReplayStats

	orders, err := store.OpenOrders()
	if err != nil {
		return stats, fmt.Errorf("load open orders: %w", err)
	}
	for _, order := range orders {
		if err := market.AddOrder(order); err != nil {
			return stats, fmt.Errorf("replay order %s: %w", order.ID(), err)
		}
		stats.Orders++
	}

	trades, err := store.Trades()
	if err != nil {
		return stats, fmt.Errorf("load trades: %w", err)
	}
	for _, trade := range trades {
		if err := market.ApplyTrade(trade); err != nil {
			return stats, fmt.Errorf("replay trade %d: %w", trade.Sequence(), err)
		}
		stats.Trades++
	}

	log.Info().
		Int("orders", stats.Orders).
		Int("trades", stats.Trades).
		Msg("journal replayed")
	return stats, nil
}
