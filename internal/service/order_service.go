package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"matchcore/internal/common"
	"matchcore/internal/engine"
)

// ErrPersistence means the market accepted a change the journal failed to
// record. The in-memory market stays authoritative.
var ErrPersistence = errors.New("persistence failure")

// Journal records what the market did.
type Journal interface {
	SaveOrder(order common.Order) error
	RecordTrade(trade common.Trade) error
	HasOrder(id string) (bool, error)
}

// OrderService is the single write path into the market. Writes are
// serialised so the journal sees orders and trades in the order the market
// produced them.
type OrderService struct {
	mu      sync.Mutex
	market  *engine.Market
	journal Journal
}

func New(market *engine.Market, journal Journal) *OrderService {
	return &OrderService{market: market, journal: journal}
}

func (s *OrderService) Market() *engine.Market { return s.market }

// Place matches the order and journals the outcome. An order the market
// refuses is journalled as rejected, unless its id is already taken. Ids are
// never reused, so an id the journal holds is refused even once its order
// is done.
func (s *OrderService) Place(order common.Order) ([]common.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID() != "" {
		known, err := s.journal.HasOrder(order.ID())
		if err != nil {
			return nil, fmt.Errorf("%w: lookup of %s: %v", ErrPersistence, order.ID(), err)
		}
		if known {
			return nil, fmt.Errorf("%w: %s already journalled", common.ErrDuplicateOrder, order.ID())
		}
	}

	trades, err := s.market.PlaceOrder(order)
	if err != nil && len(trades) == 0 {
		if !errors.Is(err, common.ErrDuplicateOrder) && order.ID() != "" {
			s.reject(order)
		}
		return nil, err
	}

	if perr := s.record(order, trades); perr != nil {
		log.Error().Err(perr).Str("order", order.ID()).Msg("unable to journal order")
		return trades, errors.Join(err, perr)
	}
	return trades, err
}

// Cancel removes a resting order from whichever book holds it.
func (s *OrderService) Cancel(id string) (common.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled, err := s.market.CancelOrder(id)
	if err != nil {
		return common.Order{}, err
	}
	if err := s.journal.SaveOrder(cancelled); err != nil {
		return cancelled, fmt.Errorf("%w: cancel of %s: %v", ErrPersistence, id, err)
	}
	log.Debug().Str("order", id).Str("symbol", cancelled.Symbol()).Msg("order cancelled")
	return cancelled, nil
}

// Book returns the depth of one symbol, best prices first.
func (s *OrderService) Book(symbol string) (bids, asks []engine.FlatPriceLevel, err error) {
	book, err := s.market.OrderBook(symbol)
	if err != nil {
		return nil, nil, err
	}
	return book.Levels(common.Buy), book.Levels(common.Sell), nil
}

func (s *OrderService) Position(user, symbol string) engine.Position {
	return s.market.Position(user, symbol)
}

func (s *OrderService) record(order common.Order, trades []common.Trade) error {
	if err := s.journal.SaveOrder(order); err != nil {
		return fmt.Errorf("%w: order %s: %v", ErrPersistence, order.ID(), err)
	}
	for _, trade := range trades {
		if err := s.journal.RecordTrade(trade); err != nil {
			return fmt.Errorf("%w: trade %s/%s: %v", ErrPersistence, trade.BuyOrderID(), trade.SellOrderID(), err)
		}
	}
	return nil
}

func (s *OrderService) reject(order common.Order) {
	if err := order.Reject(); err != nil {
		return
	}
	if err := s.journal.SaveOrder(order); err != nil {
		log.Error().Err(err).Str("order", order.ID()).Msg("unable to journal rejected order")
	}
}

// NopJournal records nothing. It backs a market run without persistence.
type NopJournal struct{}

func (NopJournal) SaveOrder(common.Order) error   { return nil }
func (NopJournal) RecordTrade(common.Trade) error { return nil }
func (NopJournal) HasOrder(string) (bool, error)  { return false, nil }
