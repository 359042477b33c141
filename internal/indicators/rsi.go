package indicators

import (
	"context"
	"fmt"

	"perpKeeper/internal/domain"
)

// RSIConfig holds configuration for the RSI indicator
type RSIConfig struct {
	IndicatorConfig
	Overbought float64
	Oversold   float64
}

// RSI implements the Relative Strength Index indicator
type RSI struct {
	BaseIndicator
	config RSIConfig
}

// NewRSI creates a new RSI indicator instance
func NewRSI(config RSIConfig) *RSI {
	return &RSI{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (r *RSI) Name() string {
	return "RSI"
}

// RequiredDataPoints is one more than the period: RSI works on price changes.
func (r *RSI) RequiredDataPoints() int {
	return r.Config.Period + 1
}

// Calculate computes the RSI value using Wilder's smoothing method
func (r *RSI) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	series := RSISeries(domain.Closes(klines), r.Config.Period)
	if len(series) == 0 {
		return 0, fmt.Errorf("%w (%d) to calculate RSI for period %d", ErrNotEnoughData, len(klines), r.Config.Period)
	}
	return series[len(series)-1], nil
}

// Zone classifies value against the configured thresholds.
func (r *RSI) Zone(value float64) Zone {
	return Thresholds{Overbought: r.config.Overbought, Oversold: r.config.Oversold}.Classify(value)
}

// RSISeries returns Wilder RSI values for closes. The first value uses the
// simple average of the first period changes; one value per later close follows.
func RSISeries(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) <= period {
		return nil
	}

	changes := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		changes = append(changes, closes[i]-closes[i-1])
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(changes)-period+1)
	out = append(out, rsiValue(avgGain, avgLoss))
	for i := period; i < len(changes); i++ {
		gain, loss := 0.0, 0.0
		if changes[i] > 0 {
			gain = changes[i]
		} else {
			loss = -changes[i]
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50 // Neutral if no change
		}
		return 100
	}
	rsi := 100 - (100 / (1 + avgGain/avgLoss))
	if rsi > 100 {
		return 100
	}
	if rsi < 0 {
		return 0
	}
	return rsi
}
