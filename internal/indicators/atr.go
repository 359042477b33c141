package indicators

import (
	"context"
	"fmt"
	"math"

	"perpKeeper/internal/domain"
)

// ATRConfig holds configuration for the Average True Range indicator
type ATRConfig struct {
	IndicatorConfig
}

// ATR implements the Average True Range indicator with Wilder's smoothing.
type ATR struct {
	BaseIndicator
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config ATRConfig) *ATR {
	return &ATR{BaseIndicator: BaseIndicator{Config: config.IndicatorConfig}}
}

// Name returns the name of the indicator
func (a *ATR) Name() string {
	return "ATR"
}

// RequiredDataPoints is one more than the period: the first true range needs a previous close.
func (a *ATR) RequiredDataPoints() int {
	return a.Config.Period + 1
}

// Calculate computes the Average True Range value for the given klines
func (a *ATR) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	period := a.Config.Period
	if period <= 0 || len(klines) < period+1 {
		return 0, fmt.Errorf("%w for ATR(%d): need %d, got %d", ErrNotEnoughData, period, period+1, len(klines))
	}

	// True range needs the previous close, so it starts at index 1.
	trueRanges := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trueRanges = append(trueRanges, tr)
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(trueRanges); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr, nil
}
