package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade accounts for the two parties who matched. It is immutable.
type Trade struct {
	sequence    uint64
	symbol      string
	buyOrderID  string
	sellOrderID string
	buyOwner    string
	sellOwner   string
	takerSide   Side
	price       Price
	quantity    decimal.Decimal
	timestamp   time.Time
}

// NewTrade matches buy against sell for quantity at price. The taker is
// whichever order arrived later by book sequence.
func NewTrade(seq uint64, buy, sell Order, price Price, quantity decimal.Decimal, at time.Time) (Trade, error) {
	if buy.Side() != Buy || sell.Side() != Sell {
		return Trade{}, fmt.Errorf("%w: trade needs a buy and a sell, got %v and %v", ErrInvalidOperation, buy.Side(), sell.Side())
	}
	if buy.Symbol() != sell.Symbol() {
		return Trade{}, fmt.Errorf("%w: symbols %s and %s differ", ErrInvalidOperation, buy.Symbol(), sell.Symbol())
	}
	if !quantity.IsPositive() {
		return Trade{}, fmt.Errorf("%w: trade quantity %s must be positive", ErrInvalidOperation, quantity)
	}

	taker := Buy
	if sell.Sequence() > buy.Sequence() {
		taker = Sell
	}
	return Trade{
		sequence:    seq,
		symbol:      buy.Symbol(),
		buyOrderID:  buy.ID(),
		sellOrderID: sell.ID(),
		buyOwner:    buy.Owner(),
		sellOwner:   sell.Owner(),
		takerSide:   taker,
		price:       price,
		quantity:    quantity,
		timestamp:   at,
	}, nil
}

func (t Trade) Sequence() uint64          { return t.sequence }
func (t Trade) Symbol() string            { return t.symbol }
func (t Trade) BuyOrderID() string        { return t.buyOrderID }
func (t Trade) SellOrderID() string       { return t.sellOrderID }
func (t Trade) BuyOwner() string          { return t.buyOwner }
func (t Trade) SellOwner() string         { return t.sellOwner }
func (t Trade) TakerSide() Side           { return t.takerSide }
func (t Trade) Price() Price              { return t.price }
func (t Trade) Quantity() decimal.Decimal { return t.quantity }
func (t Trade) Timestamp() time.Time      { return t.timestamp }

// Notional is price times quantity.
func (t Trade) Notional() decimal.Decimal {
	return t.price.Get().Mul(t.quantity)
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`Symbol:    %s
Buy:       %s (%s)
Sell:      %s (%s)
Taker:     %v
Timestamp: %v
Quantity:  %s
Price:     %s`,
		t.symbol,
		t.buyOrderID, t.buyOwner,
		t.sellOrderID, t.sellOwner,
		t.takerSide,
		t.timestamp.Format(time.RFC3339Nano),
		t.quantity,
		t.price,
	)
}

// TradeRecord is the storable form of a Trade.
type TradeRecord struct {
	Sequence    uint64          `json:"sequence"`
	Symbol      string          `json:"symbol"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	BuyOwner    string          `json:"buy_owner,omitempty"`
	SellOwner   string          `json:"sell_owner,omitempty"`
	TakerSide   Side            `json:"taker_side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (t Trade) Record() TradeRecord {
	return TradeRecord{
		Sequence:    t.sequence,
		Symbol:      t.symbol,
		BuyOrderID:  t.buyOrderID,
		SellOrderID: t.sellOrderID,
		BuyOwner:    t.buyOwner,
		SellOwner:   t.sellOwner,
		TakerSide:   t.takerSide,
		Price:       t.price.Get(),
		Quantity:    t.quantity,
		Timestamp:   t.timestamp,
	}
}

func TradeFromRecord(rec TradeRecord) (Trade, error) {
	price, err := PriceFromDecimal(rec.Price)
	if err != nil {
		return Trade{}, err
	}
	if rec.Symbol == "" || rec.BuyOrderID == "" || rec.SellOrderID == "" {
		return Trade{}, fmt.Errorf("%w: incomplete trade record", ErrInvalidValue)
	}
	if !rec.Quantity.IsPositive() {
		return Trade{}, fmt.Errorf("%w: trade quantity %s must be positive", ErrInvalidValue, rec.Quantity)
	}
	if !rec.TakerSide.valid() {
		return Trade{}, fmt.Errorf("%w: unknown taker side %v", ErrInvalidValue, rec.TakerSide)
	}
	return Trade{
		sequence:    rec.Sequence,
		symbol:      rec.Symbol,
		buyOrderID:  rec.BuyOrderID,
		sellOrderID: rec.SellOrderID,
		buyOwner:    rec.BuyOwner,
		sellOwner:   rec.SellOwner,
		takerSide:   rec.TakerSide,
		price:       price,
		quantity:    rec.Quantity,
		timestamp:   rec.Timestamp,
	}, nil
}
