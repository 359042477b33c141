package domain

import "github.com/shopspring/decimal"

// InstrumentMeta holds the price and size increments of a contract.
type InstrumentMeta struct {
	Symbol   string
	TickSize float64
	StepSize float64
	MinQty   float64
}

// SizeDecimals is the number of decimals implied by the step size.
func (m InstrumentMeta) SizeDecimals() int32 {
	return decimalsOf(m.StepSize)
}

// PriceDecimals is the number of decimals implied by the tick size.
func (m InstrumentMeta) PriceDecimals() int32 {
	return decimalsOf(m.TickSize)
}

// RoundPrice rounds p to the nearest tick.
func (m InstrumentMeta) RoundPrice(p float64) float64 {
	if m.TickSize <= 0 {
		return p
	}
	tick := decimal.NewFromFloat(m.TickSize)
	return decimal.NewFromFloat(p).Div(tick).Round(0).Mul(tick).InexactFloat64()
}

// FloorSize rounds q down to the step size.
func (m InstrumentMeta) FloorSize(q float64) float64 {
	if m.StepSize <= 0 {
		return q
	}
	step := decimal.NewFromFloat(m.StepSize)
	return decimal.NewFromFloat(q).Div(step).Floor().Mul(step).InexactFloat64()
}

// FormatPrice renders p with the tick's precision.
func (m InstrumentMeta) FormatPrice(p float64) string {
	return decimal.NewFromFloat(p).StringFixed(m.PriceDecimals())
}

// FormatSize renders q with the step's precision.
func (m InstrumentMeta) FormatSize(q float64) string {
	return decimal.NewFromFloat(q).StringFixed(m.SizeDecimals())
}

func decimalsOf(inc float64) int32 {
	if inc <= 0 {
		return 8
	}
	exp := decimal.NewFromFloat(inc).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}
