package common

import "errors"

var (
	ErrInvalidValue     = errors.New("invalid value")
	ErrInvalidOrder     = errors.New("invalid order")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrDuplicateOrder   = errors.New("duplicate order")
	ErrDuplicateSymbol  = errors.New("duplicate symbol")
	ErrOrderNotFound    = errors.New("order not found")
	ErrSymbolNotFound   = errors.New("symbol not found")
	// ErrCorruptedBook is returned when the book finds an order on one of
	// its sides that can no longer trade.
	ErrCorruptedBook = errors.New("corrupted order book")
)
