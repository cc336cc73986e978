package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"matchcore/internal/common"
)

// Market is the registry of order books and positions. Books are looked up
// or created under the registry lock; everything that touches a book runs
// under that book's own lock so unrelated symbols never wait on each other.
//
// Order ids are unique across the whole market: an id resting in one book
// cannot be added to another until it fills or is cancelled.
//
// Lock order is registry, then book, then ids, then positions.
type Market struct {
	mu    sync.RWMutex
	books map[string]*OrderBook

	idsMu sync.Mutex
	ids   map[string]string // resting order id -> symbol

	positionsMu sync.Mutex
	positions   map[positionKey]*Position
}

type positionKey struct {
	user   string
	symbol string
}

// NewMarket creates a market with a book for each of symbols already open.
func NewMarket(symbols ...string) *Market {
	market := &Market{
		books:     make(map[string]*OrderBook),
		ids:       make(map[string]string),
		positions: make(map[positionKey]*Position),
	}
	for _, symbol := range symbols {
		if symbol != "" {
			market.books[symbol] = NewOrderBook(symbol)
		}
	}
	return market
}

func (m *Market) HasOrderBook(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.books[symbol]
	return ok
}

// AddOrderBook registers a book built by the caller. Orders already resting
// in it are indexed, so none of their ids may rest elsewhere in the market.
// Once registered, the book should only be changed through the market.
func (m *Market) AddOrderBook(book *OrderBook) error {
	if book == nil || book.Symbol() == "" {
		return fmt.Errorf("%w: order book without symbol", common.ErrInvalidValue)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[book.Symbol()]; ok {
		return fmt.Errorf("%w: %s", common.ErrDuplicateSymbol, book.Symbol())
	}
	if err := m.claimAll(book.Symbol(), book.Orders()); err != nil {
		return err
	}
	m.books[book.Symbol()] = book
	log.Debug().Str("symbol", book.Symbol()).Msg("order book registered")
	return nil
}

// EnsureOrderBook returns the book for symbol, creating it exactly once.
func (m *Market) EnsureOrderBook(symbol string) (*OrderBook, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", common.ErrInvalidValue)
	}

	m.mu.RLock()
	book, ok := m.books[symbol]
	m.mu.RUnlock()
	if ok {
		return book, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Check again, someone may have created it between the two locks.
	if book, ok := m.books[symbol]; ok {
		return book, nil
	}
	book = NewOrderBook(symbol)
	m.books[symbol] = book
	log.Debug().Str("symbol", symbol).Msg("order book created")
	return book, nil
}

func (m *Market) OrderBook(symbol string) (*OrderBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, ok := m.books[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrSymbolNotFound, symbol)
	}
	return book, nil
}

// Symbols lists every symbol with a book, sorted.
func (m *Market) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbols := make([]string, 0, len(m.books))
	for symbol := range m.books {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// AddOrder rests order in its symbol's book, creating the book on first use.
// It never matches; see MatchOrders and PlaceOrder.
func (m *Market) AddOrder(order common.Order) error {
	book, err := m.bookFor(order)
	if err != nil {
		return err
	}

	book.mu.Lock()
	defer book.mu.Unlock()
	return m.addOrder(book, order)
}

// MatchOrders runs a match pass on symbol's book and folds the resulting
// trades into positions before the book is released.
func (m *Market) MatchOrders(symbol string) ([]common.Trade, error) {
	book, err := m.OrderBook(symbol)
	if err != nil {
		return nil, err
	}

	book.mu.Lock()
	defer book.mu.Unlock()
	trades, err := book.match()
	m.releaseFilled(book, trades)
	m.applyTrades(trades)
	return trades, err
}

// PlaceOrder adds order and matches its book as one critical section on
// that symbol.
func (m *Market) PlaceOrder(order common.Order) ([]common.Trade, error) {
	book, err := m.bookFor(order)
	if err != nil {
		return nil, err
	}

	book.mu.Lock()
	defer book.mu.Unlock()
	if err := m.addOrder(book, order); err != nil {
		return nil, err
	}
	trades, err := book.match()
	m.releaseFilled(book, trades)
	m.applyTrades(trades)
	return trades, err
}

// CancelOrder cancels id in whichever book holds it.
func (m *Market) CancelOrder(id string) (common.Order, error) {
	m.idsMu.Lock()
	symbol, ok := m.ids[id]
	m.idsMu.Unlock()
	if ok {
		return m.CancelOrderForSymbol(symbol, id)
	}

	// Not indexed; only books changed behind the market's back get here.
	for _, book := range m.bookList() {
		order, err := m.cancelOrder(book, id)
		if errors.Is(err, common.ErrOrderNotFound) {
			continue
		}
		return order, err
	}
	return common.Order{}, fmt.Errorf("%w: %s", common.ErrOrderNotFound, id)
}

// CancelOrderForSymbol cancels id when the caller knows its symbol.
func (m *Market) CancelOrderForSymbol(symbol, id string) (common.Order, error) {
	book, err := m.OrderBook(symbol)
	if err != nil {
		return common.Order{}, err
	}
	return m.cancelOrder(book, id)
}

// TradesForSymbol returns the trade history of symbol's book.
func (m *Market) TradesForSymbol(symbol string) []common.Trade {
	book, err := m.OrderBook(symbol)
	if err != nil {
		return nil
	}
	return book.Trades()
}

// Position returns user's position in symbol, flat if none was tracked yet.
func (m *Market) Position(user, symbol string) Position {
	m.positionsMu.Lock()
	defer m.positionsMu.Unlock()
	return *m.position(user, symbol)
}

// AllPositions returns every tracked position ordered by user then symbol.
func (m *Market) AllPositions() []Position {
	m.positionsMu.Lock()
	positions := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		positions = append(positions, *p)
	}
	m.positionsMu.Unlock()

	sort.Slice(positions, func(i, j int) bool {
		if positions[i].user != positions[j].user {
			return positions[i].user < positions[j].user
		}
		return positions[i].symbol < positions[j].symbol
	})
	return positions
}

// ApplyTrade books one fill against the buyer's and seller's positions.
// Anonymous sides are skipped. Trades returned by MatchOrders and PlaceOrder
// are already applied; this is for trades replayed from storage.
func (m *Market) ApplyTrade(trade common.Trade) error {
	m.positionsMu.Lock()
	defer m.positionsMu.Unlock()
	return m.applyTrade(trade)
}

func (m *Market) bookFor(order common.Order) (*OrderBook, error) {
	if order.Symbol() == "" {
		return nil, fmt.Errorf("%w: order %q without symbol", common.ErrInvalidOrder, order.ID())
	}
	return m.EnsureOrderBook(order.Symbol())
}

// addOrder claims order's id for book, then rests it. Must be called with
// book.mu held.
func (m *Market) addOrder(book *OrderBook, order common.Order) error {
	if err := m.claimAll(book.symbol, []common.Order{order}); err != nil {
		return err
	}
	if err := book.addOrder(order); err != nil {
		m.release(book.symbol, order.ID())
		return err
	}
	return nil
}

func (m *Market) cancelOrder(book *OrderBook, id string) (common.Order, error) {
	book.mu.Lock()
	defer book.mu.Unlock()
	order, err := book.cancelOrder(id)
	if err != nil {
		return order, err
	}
	m.release(book.symbol, id)
	log.Debug().Str("symbol", book.symbol).Str("id", id).Msg("order cancelled")
	return order, nil
}

// claimAll indexes every order under symbol, or none of them if any id is
// already taken.
func (m *Market) claimAll(symbol string, orders []common.Order) error {
	m.idsMu.Lock()
	defer m.idsMu.Unlock()
	for i, order := range orders {
		if held, ok := m.ids[order.ID()]; ok {
			for _, claimed := range orders[:i] {
				delete(m.ids, claimed.ID())
			}
			return fmt.Errorf("%w: %s already rests in %s", common.ErrDuplicateOrder, order.ID(), held)
		}
		m.ids[order.ID()] = symbol
	}
	return nil
}

func (m *Market) release(symbol string, ids ...string) {
	m.idsMu.Lock()
	defer m.idsMu.Unlock()
	for _, id := range ids {
		if m.ids[id] == symbol {
			delete(m.ids, id)
		}
	}
}

// releaseFilled frees the ids of orders that trades took out of book. Must
// be called with book.mu held.
func (m *Market) releaseFilled(book *OrderBook, trades []common.Trade) {
	var gone []string
	for _, trade := range trades {
		for _, id := range [...]string{trade.BuyOrderID(), trade.SellOrderID()} {
			if _, resting := book.orders[id]; !resting {
				gone = append(gone, id)
			}
		}
	}
	if len(gone) > 0 {
		m.release(book.symbol, gone...)
	}
}

func (m *Market) applyTrades(trades []common.Trade) {
	if len(trades) == 0 {
		return
	}
	m.positionsMu.Lock()
	defer m.positionsMu.Unlock()
	for _, trade := range trades {
		if err := m.applyTrade(trade); err != nil {
			// Trades from a book always carry a positive quantity and a
			// valid side, so this is unreachable short of a bug.
			log.Error().Err(err).Str("symbol", trade.Symbol()).Msg("unable to apply trade to positions")
		}
	}
}

func (m *Market) applyTrade(trade common.Trade) error {
	if owner := trade.BuyOwner(); owner != "" {
		if err := m.position(owner, trade.Symbol()).Update(common.Buy, trade.Quantity(), trade.Price()); err != nil {
			return err
		}
	}
	if owner := trade.SellOwner(); owner != "" {
		if err := m.position(owner, trade.Symbol()).Update(common.Sell, trade.Quantity(), trade.Price()); err != nil {
			return err
		}
	}
	return nil
}

// position must be called with positionsMu held.
func (m *Market) position(user, symbol string) *Position {
	key := positionKey{user: user, symbol: symbol}
	p, ok := m.positions[key]
	if !ok {
		created := NewPosition(user, symbol)
		p = &created
		m.positions[key] = p
	}
	return p
}

func (m *Market) bookList() []*OrderBook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	books := make([]*OrderBook, 0, len(m.books))
	for _, book := range m.books {
		books = append(books, book)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].symbol < books[j].symbol })
	return books
}
