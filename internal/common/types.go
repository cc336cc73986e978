package common

import "fmt"

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) valid() bool {
	return s == Buy || s == Sell
}

// OrderStatus is the lifecycle state of an order. Transitions are only ever
// made through CanTransition, the one place order state is decided.
type OrderStatus int

const (
	New OrderStatus = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

var statusNames = map[OrderStatus]string{
	New:             "NEW",
	PartiallyFilled: "PARTIALLY_FILLED",
	Filled:          "FILLED",
	Cancelled:       "CANCELLED",
	Rejected:        "REJECTED",
}

func (s OrderStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OrderStatus(%d)", int(s))
}

// ParseOrderStatus is the inverse of OrderStatus.String.
func ParseOrderStatus(name string) (OrderStatus, error) {
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown order status %q", ErrInvalidValue, name)
}

// Terminal reports whether no transition leaves the status.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// CanTransition reports whether an order may move from one status to
// another.
//
//	NEW              -> PARTIALLY_FILLED, FILLED, CANCELLED, REJECTED
//	PARTIALLY_FILLED -> PARTIALLY_FILLED, FILLED, CANCELLED
//	FILLED, CANCELLED, REJECTED are terminal.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case New:
		return to == PartiallyFilled || to == Filled || to == Cancelled || to == Rejected
	case PartiallyFilled:
		return to == PartiallyFilled || to == Filled || to == Cancelled
	}
	return false
}
