package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is a single limit order. Identity (id, owner, symbol, side, price,
// original quantity) is fixed at construction; only the remaining quantity
// and status change, and only through the methods below.
//
// Orders are values: the book keeps its own copy, so a caller's Order is
// never mutated by submitting it.
type Order struct {
	id            string          // Order tracked uuid
	owner         string          // Who owns this order
	symbol        string          // Specific asset identifier
	side          Side            // Order side
	price         Price           // Limiting price
	quantity      decimal.Decimal // Remaining quantity
	totalQuantity decimal.Decimal // Total volume requested
	status        OrderStatus     //
	sequence      uint64          // Arrival position in the book, 0 until resting
	createdAt     time.Time       // Time of construction
	acceptedAt    time.Time       // Time of arrival of order into the book
}

// NewOrder validates and builds an order. An empty id is replaced by a
// random uuid. Owner may be empty for anonymous flow.
func NewOrder(id, owner, symbol string, side Side, quantity decimal.Decimal, price Price) (Order, error) {
	if symbol == "" {
		return Order{}, fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	if !side.valid() {
		return Order{}, fmt.Errorf("%w: unknown side %v", ErrInvalidOrder, side)
	}
	if !quantity.IsPositive() {
		return Order{}, fmt.Errorf("%w: quantity %s must be positive", ErrInvalidOrder, quantity)
	}
	if !price.IsPositive() {
		return Order{}, fmt.Errorf("%w: price %s must be positive", ErrInvalidOrder, price)
	}
	if id == "" {
		id = uuid.New().String()
	}

	return Order{
		id:            id,
		owner:         owner,
		symbol:        symbol,
		side:          side,
		price:         price,
		quantity:      quantity,
		totalQuantity: quantity,
		status:        New,
		createdAt:     time.Now(),
	}, nil
}

func (o Order) ID() string                        { return o.id }
func (o Order) Owner() string                     { return o.owner }
func (o Order) Symbol() string                    { return o.symbol }
func (o Order) Side() Side                        { return o.side }
func (o Order) Price() Price                      { return o.price }
func (o Order) Quantity() decimal.Decimal         { return o.quantity }
func (o Order) OriginalQuantity() decimal.Decimal { return o.totalQuantity }
func (o Order) Status() OrderStatus               { return o.status }
func (o Order) Sequence() uint64                  { return o.sequence }
func (o Order) CreatedAt() time.Time              { return o.createdAt }
func (o Order) AcceptedAt() time.Time             { return o.acceptedAt }

func (o Order) FilledQuantity() decimal.Decimal {
	return o.totalQuantity.Sub(o.quantity)
}

// IsLive reports whether the order may rest in a book.
func (o Order) IsLive() bool {
	return (o.status == New || o.status == PartiallyFilled) && o.quantity.IsPositive()
}

// Sequenced returns a copy stamped with the book's arrival sequence and
// time. The receiver is left untouched.
func (o Order) Sequenced(seq uint64, at time.Time) Order {
	o.sequence = seq
	o.acceptedAt = at
	return o
}

// SetStatus moves the order to status if the state machine allows it.
// Fill states must agree with the remaining quantity, so fills normally go
// through ReduceQuantity instead.
func (o *Order) SetStatus(status OrderStatus) error {
	if !CanTransition(o.status, status) {
		return fmt.Errorf("%w: order %s cannot go from %v to %v", ErrInvalidOperation, o.id, o.status, status)
	}
	switch status {
	case Filled:
		if !o.quantity.IsZero() {
			return fmt.Errorf("%w: order %s has %s remaining", ErrInvalidOperation, o.id, o.quantity)
		}
	case PartiallyFilled:
		if o.quantity.IsZero() || o.quantity.Equal(o.totalQuantity) {
			return fmt.Errorf("%w: order %s is not partially filled", ErrInvalidOperation, o.id)
		}
	case Cancelled:
		if !o.quantity.IsPositive() {
			return fmt.Errorf("%w: order %s has nothing left to cancel", ErrInvalidOperation, o.id)
		}
	}
	o.status = status
	return nil
}

// ReduceQuantity records a fill of amount. The order becomes FILLED when
// nothing remains and PARTIALLY_FILLED otherwise.
func (o *Order) ReduceQuantity(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: fill amount %s must be positive", ErrInvalidOperation, amount)
	}
	if amount.GreaterThan(o.quantity) {
		return fmt.Errorf("%w: fill %s exceeds remaining %s of order %s", ErrInvalidOperation, amount, o.quantity, o.id)
	}
	next := PartiallyFilled
	if amount.Equal(o.quantity) {
		next = Filled
	}
	if !CanTransition(o.status, next) {
		return fmt.Errorf("%w: order %s is %v", ErrInvalidOperation, o.id, o.status)
	}
	o.quantity = o.quantity.Sub(amount)
	o.status = next
	return nil
}

func (o *Order) Cancel() error { return o.SetStatus(Cancelled) }

// Reject marks an order that never made it into a book.
func (o *Order) Reject() error {
	if o.sequence != 0 {
		return fmt.Errorf("%w: order %s is already resting", ErrInvalidOperation, o.id)
	}
	return o.SetStatus(Rejected)
}

func (o Order) String() string {
	return fmt.Sprintf(
		`ID:         %s
Owner:      %s
Symbol:     %s
Side:       %v
Price:      %s
Quantity:   %s (Total: %s)
Status:     %v
Sequence:   %d
CreatedAt:  %v
AcceptedAt: %v`,
		o.id,
		o.owner,
		o.symbol,
		o.side,
		o.price,
		o.quantity,
		o.totalQuantity,
		o.status,
		o.sequence,
		o.createdAt.Format(time.RFC3339),
		o.acceptedAt.Format(time.RFC3339),
	)
}

// OrderRecord is the storable form of an Order.
type OrderRecord struct {
	ID            string          `json:"id"`
	Owner         string          `json:"owner,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	Status        string          `json:"status"`
	Sequence      uint64          `json:"sequence,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	AcceptedAt    time.Time       `json:"accepted_at,omitempty"`
}

func (o Order) Record() OrderRecord {
	return OrderRecord{
		ID:            o.id,
		Owner:         o.owner,
		Symbol:        o.symbol,
		Side:          o.side,
		Price:         o.price.Get(),
		Quantity:      o.quantity,
		TotalQuantity: o.totalQuantity,
		Status:        o.status.String(),
		Sequence:      o.sequence,
		CreatedAt:     o.createdAt,
		AcceptedAt:    o.acceptedAt,
	}
}

// OrderFromRecord rebuilds an order, checking the same invariants
// NewOrder does plus consistency between status and remaining quantity.
func OrderFromRecord(rec OrderRecord) (Order, error) {
	if rec.ID == "" {
		return Order{}, fmt.Errorf("%w: record without id", ErrInvalidOrder)
	}
	price, err := PriceFromDecimal(rec.Price)
	if err != nil {
		return Order{}, err
	}
	order, err := NewOrder(rec.ID, rec.Owner, rec.Symbol, rec.Side, rec.TotalQuantity, price)
	if err != nil {
		return Order{}, err
	}
	status, err := ParseOrderStatus(rec.Status)
	if err != nil {
		return Order{}, err
	}
	if rec.Quantity.IsNegative() || rec.Quantity.GreaterThan(rec.TotalQuantity) {
		return Order{}, fmt.Errorf("%w: remaining %s outside [0, %s]", ErrInvalidOrder, rec.Quantity, rec.TotalQuantity)
	}

	consistent := true
	switch status {
	case New:
		consistent = rec.Quantity.Equal(rec.TotalQuantity)
	case PartiallyFilled:
		consistent = rec.Quantity.IsPositive() && rec.Quantity.LessThan(rec.TotalQuantity)
	case Filled:
		consistent = rec.Quantity.IsZero()
	case Cancelled:
		consistent = rec.Quantity.IsPositive()
	}
	if !consistent {
		return Order{}, fmt.Errorf("%w: status %v with remaining %s of %s", ErrInvalidOrder, status, rec.Quantity, rec.TotalQuantity)
	}

	order.quantity = rec.Quantity
	order.status = status
	order.sequence = rec.Sequence
	order.createdAt = rec.CreatedAt
	order.acceptedAt = rec.AcceptedAt
	return order, nil
}
