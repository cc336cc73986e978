package common

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Price is a finite, non-negative decimal. The zero value is a valid price
// of zero.
type Price struct {
	value decimal.Decimal
}

func NewPrice(value float64) (Price, error) {
	var p Price
	if err := p.Set(value); err != nil {
		return Price{}, err
	}
	return p, nil
}

// NewPriceFromString parses a decimal literal such as "150.25".
func NewPriceFromString(value string) (Price, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Price{}, fmt.Errorf("%w: price %q: %v", ErrInvalidValue, value, err)
	}
	return PriceFromDecimal(d)
}

func PriceFromDecimal(value decimal.Decimal) (Price, error) {
	if value.IsNegative() {
		return Price{}, fmt.Errorf("%w: negative price %s", ErrInvalidValue, value)
	}
	return Price{value: value}, nil
}

// MustPrice is NewPriceFromString for literals known to be valid.
func MustPrice(value string) Price {
	p, err := NewPriceFromString(value)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Price) Get() decimal.Decimal { return p.value }

// Set replaces the value, leaving the price untouched on failure.
func (p *Price) Set(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: non-finite price %v", ErrInvalidValue, value)
	}
	if value < 0 {
		return fmt.Errorf("%w: negative price %v", ErrInvalidValue, value)
	}
	p.value = decimal.NewFromFloat(value)
	return nil
}

func (p Price) Float64() float64 {
	f, _ := p.value.Float64()
	return f
}

func (p Price) Cmp(other Price) int { return p.value.Cmp(other.value) }

func (p Price) Equal(other Price) bool { return p.value.Equal(other.value) }

func (p Price) IsPositive() bool { return p.value.IsPositive() }

func (p Price) String() string { return p.value.String() }
