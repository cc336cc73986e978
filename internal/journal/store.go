package journal

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"matchcore/internal/common"
)

// Store journals orders and trades to pebble so a market can be rebuilt
// after a restart. Order records are kept at their latest state; every
// trade is appended together with the fills it caused, in one batch.
type Store struct {
	mu sync.Mutex
	db *pebble.DB

	arrivalSeq uint64 // Last arrival sequence handed to a new order.
	tradeSeq   uint64 // Last sequence handed to a trade.
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", dir, err)
	}
	s := &Store{db: db}
	if s.arrivalSeq, err = s.lastSeq(arrivalPrefix); err == nil {
		s.tradeSeq, err = s.lastSeq(tradePrefix)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open journal %s: %w", dir, err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveOrder writes the order's current state. An order seen for the first
// time is also given the next arrival sequence.
func (s *Store) SaveOrder(order common.Order) error {
	if order.ID() == "" {
		return fmt.Errorf("%w: order without id", common.ErrInvalidOrder)
	}
	data, err := json.Marshal(order.Record())
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	known, err := s.has(orderKey(order.ID()))
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(orderKey(order.ID()), data, nil); err != nil {
		return err
	}
	if !known {
		if err := batch.Set(arrivalKey(s.arrivalSeq+1), []byte(order.ID()), nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	if !known {
		s.arrivalSeq++
	}
	return nil
}

// RecordTrade applies the fill to both stored orders and appends the trade.
// Either everything is written or nothing is.
func (s *Store) RecordTrade(trade common.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buy, err := s.loadOrder(trade.BuyOrderID())
	if err != nil {
		return err
	}
	sell, err := s.loadOrder(trade.SellOrderID())
	if err != nil {
		return err
	}
	if err := buy.ReduceQuantity(trade.Quantity()); err != nil {
		return fmt.Errorf("fill buy order %s: %w", buy.ID(), err)
	}
	if err := sell.ReduceQuantity(trade.Quantity()); err != nil {
		return fmt.Errorf("fill sell order %s: %w", sell.ID(), err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, order := range []common.Order{buy, sell} {
		data, err := json.Marshal(order.Record())
		if err != nil {
			return fmt.Errorf("failed to marshal order: %w", err)
		}
		if err := batch.Set(orderKey(order.ID()), data, nil); err != nil {
			return err
		}
	}
	data, err := json.Marshal(trade.Record())
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if err := batch.Set(tradeKey(s.tradeSeq+1), data, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	s.tradeSeq++
	return nil
}

// Order loads the latest state of one order.
func (s *Store) Order(id string) (common.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOrder(id)
}

// HasOrder reports whether id was ever journalled, whatever its state.
func (s *Store) HasOrder(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known, err := s.has(orderKey(id))
	if err != nil {
		return false, fmt.Errorf("failed to look up order: %w", err)
	}
	return known, nil
}

// OpenOrders returns the orders that can still trade, in the order they
// first reached the journal.
func (s *Store) OpenOrders() ([]common.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	err := s.scan(arrivalPrefix, func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	})
	if err != nil {
		return nil, err
	}

	var orders []common.Order
	for _, id := range ids {
		order, err := s.loadOrder(id)
		if err != nil {
			return nil, err
		}
		if order.IsLive() {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

// Trades returns every recorded trade, oldest first.
func (s *Store) Trades() ([]common.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var trades []common.Trade
	err := s.scan(tradePrefix, func(key, value []byte) error {
		var rec common.TradeRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal trade %s: %w", key, err)
		}
		trade, err := common.TradeFromRecord(rec)
		if err != nil {
			return fmt.Errorf("trade %s: %w", key, err)
		}
		trades = append(trades, trade)
		return nil
	})
	return trades, err
}

func (s *Store) loadOrder(id string) (common.Order, error) {
	data, closer, err := s.db.Get(orderKey(id))
	if err == pebble.ErrNotFound {
		return common.Order{}, fmt.Errorf("%w: %s not in journal", common.ErrOrderNotFound, id)
	}
	if err != nil {
		return common.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()

	var rec common.OrderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return common.Order{}, fmt.Errorf("failed to unmarshal order %s: %w", id, err)
	}
	return common.OrderFromRecord(rec)
}

func (s *Store) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

func (s *Store) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Store) lastSeq(prefix []byte) (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseSeq(iter.Key(), prefix)
}
