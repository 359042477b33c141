package indicators

import (
	"context"
	"errors"

	"perpKeeper/internal/domain"
)

// ErrNotEnoughData is returned when the input is shorter than the indicator needs.
var ErrNotEnoughData = errors.New("not enough data")

// Indicator represents a single-valued technical indicator over klines.
type Indicator interface {
	// Calculate computes the latest indicator value for the given price data
	Calculate(ctx context.Context, klines []*domain.Kline) (float64, error)

	// RequiredDataPoints returns the minimum number of klines needed for calculation
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}

// Zone classifies an oscillator reading.
type Zone string

const (
	ZoneOverbought Zone = "overbought"
	ZoneOversold   Zone = "oversold"
	ZoneNeutral    Zone = "neutral"
)

// Thresholds are the overbought and oversold bounds of an oscillator.
type Thresholds struct {
	Overbought float64
	Oversold   float64
}

// Classify returns the zone of value. Bounds are inclusive.
func (t Thresholds) Classify(value float64) Zone {
	switch {
	case value >= t.Overbought:
		return ZoneOverbought
	case value <= t.Oversold:
		return ZoneOversold
	default:
		return ZoneNeutral
	}
}

func highsLowsCloses(klines []*domain.Kline) (highs, lows, closes []float64) {
	highs = make([]float64, len(klines))
	lows = make([]float64, len(klines))
	closes = make([]float64, len(klines))
	for i, k := range klines {
		highs[i], lows[i], closes[i] = k.High, k.Low, k.Close
	}
	return highs, lows, closes
}

// smoothSMA returns the trailing simple averages of values over period,
// one per full window.
func smoothSMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}
