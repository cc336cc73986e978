package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"matchcore/internal/common"
)

// Position is one user's running exposure in one symbol. Quantity is signed:
// positive is net long, negative net short.
type Position struct {
	user         string
	symbol       string
	quantity     decimal.Decimal
	averagePrice decimal.Decimal
	realizedPnL  decimal.Decimal
}

func NewPosition(user, symbol string) Position {
	return Position{
		user:         user,
		symbol:       symbol,
		quantity:     decimal.Zero,
		averagePrice: decimal.Zero,
		realizedPnL:  decimal.Zero,
	}
}

func (p Position) User() string                 { return p.user }
func (p Position) Symbol() string               { return p.symbol }
func (p Position) Quantity() decimal.Decimal    { return p.quantity }
func (p Position) AveragePrice() decimal.Decimal { return p.averagePrice }
func (p Position) RealizedPnL() decimal.Decimal { return p.realizedPnL }
func (p Position) IsFlat() bool                 { return p.quantity.IsZero() }

// Update applies one fill of quantity at price on side.
//
// Fills that grow the position (or open it from flat) move the average
// price to the volume-weighted mean. Fills against the position realise PnL
// on the closed part and leave the average alone; a fill larger than the
// position flips it and the remainder opens at the fill price. A position
// that lands exactly flat has its average reset to zero.
func (p *Position) Update(side common.Side, quantity decimal.Decimal, price common.Price) error {
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: fill quantity %s must be positive", common.ErrInvalidValue, quantity)
	}
	delta := quantity
	switch side {
	case common.Buy:
	case common.Sell:
		delta = quantity.Neg()
	default:
		return fmt.Errorf("%w: unknown side %v", common.ErrInvalidValue, side)
	}
	fill := price.Get()

	if p.quantity.IsZero() || p.quantity.Sign() == delta.Sign() {
		held := p.quantity.Abs()
		cost := held.Mul(p.averagePrice).Add(quantity.Mul(fill))
		p.averagePrice = cost.Div(held.Add(quantity))
		p.quantity = p.quantity.Add(delta)
		return nil
	}

	held := p.quantity.Abs()
	closed := decimal.Min(held, quantity)
	// Long positions gain when closing above the average, shorts below it.
	pnl := fill.Sub(p.averagePrice).Mul(closed)
	if p.quantity.IsNegative() {
		pnl = pnl.Neg()
	}
	p.realizedPnL = p.realizedPnL.Add(pnl)
	p.quantity = p.quantity.Add(delta)

	switch quantity.Cmp(held) {
	case 0:
		p.averagePrice = decimal.Zero
	case 1:
		p.averagePrice = fill
	}
	return nil
}

func (p Position) String() string {
	return fmt.Sprintf("%s %s: %s @ %s (realized %s)", p.user, p.symbol, p.quantity, p.averagePrice, p.realizedPnL)
}
