package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"matchcore/internal/common"
)

// PriceLevel holds the resting orders at one price, in arrival order.
type PriceLevel struct {
	price  common.Price
	orders []*common.Order
}

type PriceLevels = btree.BTreeG[*PriceLevel]

// FlatPriceLevel is a copy of a price level for inspection.
type FlatPriceLevel struct {
	Price    common.Price
	Quantity decimal.Decimal
	Orders   []common.Order
}

// OrderBook holds every live order for one symbol and matches them in
// price-time priority. All methods are safe for concurrent use; the book is
// its own unit of mutual exclusion.
type OrderBook struct {
	mu     sync.Mutex
	symbol string

	// Price levels to orders sat on the price level, sorted by sequence
	// as they will be push-back'd.
	bids *PriceLevels
	asks *PriceLevels

	// Resting orders by id. The book owns these copies.
	orders map[string]*common.Order

	seq      uint64 // Last sequence handed to a resting order.
	tradeSeq uint64 // Last sequence handed to a trade.
	trades   []common.Trade

	now func() time.Time
}

func NewOrderBook(symbol string) *OrderBook {
	// The book serialises access itself, so the trees skip their own locks.
	opts := btree.Options{NoLocks: true}
	// Sorted greatest first.
	bids := btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
		return a.price.Cmp(b.price) > 0
	}, opts)
	// Sorted least first.
	asks := btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
		return a.price.Cmp(b.price) < 0
	}, opts)
	return &OrderBook{
		symbol: symbol,
		bids:   bids,
		asks:   asks,
		orders: make(map[string]*common.Order),
		now:    time.Now,
	}
}

func (book *OrderBook) Symbol() string { return book.symbol }

// AddOrder rests a copy of order in the book without matching it. On error
// the book is unchanged.
func (book *OrderBook) AddOrder(order common.Order) error {
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.addOrder(order)
}

// Match consumes the top of book while it crosses and returns the trades
// produced, oldest first.
func (book *OrderBook) Match() ([]common.Trade, error) {
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.match()
}

// Place adds order and runs a match pass without releasing the book in
// between, so no other caller observes the order resting uncrossed.
func (book *OrderBook) Place(order common.Order) ([]common.Trade, error) {
	book.mu.Lock()
	defer book.mu.Unlock()
	if err := book.addOrder(order); err != nil {
		return nil, err
	}
	return book.match()
}

// CancelOrder removes a resting order and returns its final state. A
// second cancel of the same id fails with ErrOrderNotFound.
func (book *OrderBook) CancelOrder(id string) (common.Order, error) {
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.cancelOrder(id)
}

// Orders returns copies of every resting order: bids best first, then asks
// best first, FIFO within a level.
func (book *OrderBook) Orders() []common.Order {
	book.mu.Lock()
	defer book.mu.Unlock()

	out := make([]common.Order, 0, len(book.orders))
	for _, levels := range []*PriceLevels{book.bids, book.asks} {
		levels.Scan(func(level *PriceLevel) bool {
			for _, order := range level.orders {
				out = append(out, *order)
			}
			return true
		})
	}
	return out
}

// BestBid returns the highest bid, earliest first within the level.
func (book *OrderBook) BestBid() (common.Order, bool) {
	book.mu.Lock()
	defer book.mu.Unlock()
	return head(book.bids)
}

// BestAsk returns the lowest ask, earliest first within the level.
func (book *OrderBook) BestAsk() (common.Order, bool) {
	book.mu.Lock()
	defer book.mu.Unlock()
	return head(book.asks)
}

func (book *OrderBook) Has(id string) bool {
	book.mu.Lock()
	defer book.mu.Unlock()
	_, ok := book.orders[id]
	return ok
}

// Order returns a copy of the resting order with the given id.
func (book *OrderBook) Order(id string) (common.Order, error) {
	book.mu.Lock()
	defer book.mu.Unlock()
	order, ok := book.orders[id]
	if !ok {
		return common.Order{}, fmt.Errorf("%w: %s in %s", common.ErrOrderNotFound, id, book.symbol)
	}
	return *order, nil
}

// Len is the number of resting orders on both sides.
func (book *OrderBook) Len() int {
	book.mu.Lock()
	defer book.mu.Unlock()
	return len(book.orders)
}

// Levels flattens one side of the book, best price first.
func (book *OrderBook) Levels(side common.Side) []FlatPriceLevel {
	book.mu.Lock()
	defer book.mu.Unlock()
	return FlattenLevels(book.side(side).Items())
}

// Trades returns every trade this book has produced, oldest first.
func (book *OrderBook) Trades() []common.Trade {
	book.mu.Lock()
	defer book.mu.Unlock()
	return append([]common.Trade(nil), book.trades...)
}

func FlattenLevels(levels []*PriceLevel) []FlatPriceLevel {
	out := make([]FlatPriceLevel, 0, len(levels))
	for _, level := range levels {
		flat := FlatPriceLevel{
			Price:    level.price,
			Quantity: decimal.Zero,
			Orders:   make([]common.Order, 0, len(level.orders)),
		}
		for _, order := range level.orders {
			flat.Quantity = flat.Quantity.Add(order.Quantity())
			flat.Orders = append(flat.Orders, *order)
		}
		out = append(out, flat)
	}
	return out
}

func (book *OrderBook) side(side common.Side) *PriceLevels {
	if side == common.Buy {
		return book.bids
	}
	return book.asks
}

func head(levels *PriceLevels) (common.Order, bool) {
	level, ok := levels.Min()
	if !ok {
		return common.Order{}, false
	}
	return *level.orders[0], true
}

func (book *OrderBook) addOrder(order common.Order) error {
	if order.Symbol() != book.symbol {
		return fmt.Errorf("%w: order for %q sent to book %q", common.ErrInvalidOrder, order.Symbol(), book.symbol)
	}
	if !order.IsLive() {
		return fmt.Errorf("%w: order %s is %v with %s remaining", common.ErrInvalidOrder, order.ID(), order.Status(), order.Quantity())
	}
	if _, ok := book.orders[order.ID()]; ok {
		return fmt.Errorf("%w: %s", common.ErrDuplicateOrder, order.ID())
	}

	book.seq++
	stored := order.Sequenced(book.seq, book.now())

	// Levels comparator only accounts for price levels, so we create a dummy
	// price level for the search.
	levels := book.side(stored.Side())
	level, ok := levels.GetMut(&PriceLevel{price: stored.Price()})
	if ok {
		// If the price level already exists, just append onto the existing orders.
		level.orders = append(level.orders, &stored)
	} else {
		levels.Set(&PriceLevel{
			price:  stored.Price(),
			orders: []*common.Order{&stored},
		})
	}
	book.orders[stored.ID()] = &stored
	return nil
}

func (book *OrderBook) cancelOrder(id string) (common.Order, error) {
	order, ok := book.orders[id]
	if !ok {
		return common.Order{}, fmt.Errorf("%w: %s in %s", common.ErrOrderNotFound, id, book.symbol)
	}

	cancelled := *order
	if err := cancelled.Cancel(); err != nil {
		return common.Order{}, fmt.Errorf("%w: %v", common.ErrCorruptedBook, err)
	}
	if !book.unlink(order) {
		return common.Order{}, fmt.Errorf("%w: order %s missing from its level", common.ErrCorruptedBook, id)
	}
	return cancelled, nil
}

// unlink removes order from its price level, dropping the level when it
// empties, and from the id index.
func (book *OrderBook) unlink(order *common.Order) bool {
	levels := book.side(order.Side())
	level, ok := levels.GetMut(&PriceLevel{price: order.Price()})
	if !ok {
		return false
	}
	for i, resting := range level.orders {
		if resting != order {
			continue
		}
		level.orders = append(level.orders[:i], level.orders[i+1:]...)
		if len(level.orders) == 0 {
			levels.Delete(level)
		}
		delete(book.orders, order.ID())
		return true
	}
	return false
}

// match consumes the top of book price levels while they cross (i.e., bid >=
// ask), one pair of head orders per step.
//
// The execution price is the price of whichever of the two orders has the
// lower sequence, i.e. the one that was resting first. A partially filled
// order keeps its place at the head of its level.
//
// Each step is applied to copies of both orders first, so a failing step
// leaves the book as it was after the previous trade; trades produced so far
// are returned together with the error.
func (book *OrderBook) match() ([]common.Trade, error) {
	var trades []common.Trade
	for {
		bestBid, bidOk := book.bids.MinMut()
		bestAsk, askOk := book.asks.MinMut()

		// If either side is empty, or prices don't cross, we are done.
		if !bidOk || !askOk || bestBid.price.Cmp(bestAsk.price) < 0 {
			return trades, nil
		}
		if len(bestBid.orders) == 0 || len(bestAsk.orders) == 0 {
			return trades, fmt.Errorf("%w: empty price level in %s", common.ErrCorruptedBook, book.symbol)
		}

		bid, ask := bestBid.orders[0], bestAsk.orders[0]
		if !bid.IsLive() || !ask.IsLive() {
			return trades, fmt.Errorf("%w: dead order at top of %s", common.ErrCorruptedBook, book.symbol)
		}

		matchQty := decimal.Min(bid.Quantity(), ask.Quantity())
		price := bid.Price()
		if ask.Sequence() < bid.Sequence() {
			price = ask.Price()
		}

		trade, err := common.NewTrade(book.tradeSeq+1, *bid, *ask, price, matchQty, book.now())
		if err != nil {
			return trades, fmt.Errorf("%w: %v", common.ErrCorruptedBook, err)
		}
		nextBid, nextAsk := *bid, *ask
		if err := nextBid.ReduceQuantity(matchQty); err != nil {
			return trades, fmt.Errorf("%w: %v", common.ErrCorruptedBook, err)
		}
		if err := nextAsk.ReduceQuantity(matchQty); err != nil {
			return trades, fmt.Errorf("%w: %v", common.ErrCorruptedBook, err)
		}

		*bid, *ask = nextBid, nextAsk
		book.tradeSeq++
		book.trades = append(book.trades, trade)
		trades = append(trades, trade)

		// Full consumption cases (i.e. filled orders leave, empty levels go).
		if bid.Status() == common.Filled {
			book.popHead(book.bids, bestBid)
		}
		if ask.Status() == common.Filled {
			book.popHead(book.asks, bestAsk)
		}
	}
}

func (book *OrderBook) popHead(levels *PriceLevels, level *PriceLevel) {
	delete(book.orders, level.orders[0].ID())
	level.orders[0] = nil
	level.orders = level.orders[1:]
	if len(level.orders) == 0 {
		levels.Delete(level)
	}
}
