package market

import (
	"context"
	"errors"
	"fmt"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/indicators"
	"perpKeeper/internal/ports"
)

// ATRPeriod is the lookback of the volatility used for stops.
const ATRPeriod = 14

var atr = indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: ATRPeriod}})

// HourlyATR computes ATR(14) over hourly candles.
func HourlyATR(ctx context.Context, klines []*domain.Kline) (float64, error) {
	v, err := atr.Calculate(ctx, klines)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("ATR(%d) is %.8f, not positive", ATRPeriod, v)
	}
	return v, nil
}

// ATRSource fetches hourly candles on demand and computes ATR(14) from them.
type ATRSource struct {
	data  ports.MarketData
	limit int
}

// NewATRSource creates an ATRSource fetching limit hourly candles.
func NewATRSource(data ports.MarketData, limit int) (*ATRSource, error) {
	if data == nil {
		return nil, errors.New("missing market data for ATRSource")
	}
	if limit <= ATRPeriod {
		limit = DefaultLimits().Hour
	}
	return &ATRSource{data: data, limit: limit}, nil
}

// ATR returns the current hourly ATR of symbol.
func (a *ATRSource) ATR(ctx context.Context, symbol string) (float64, error) {
	klines, err := a.data.GetKlines(ctx, symbol, domain.Interval1h, a.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch 1h candles for %s: %w", symbol, err)
	}
	v, err := HourlyATR(ctx, klines)
	if err != nil {
		return 0, fmt.Errorf("ATR for %s: %w", symbol, err)
	}
	return v, nil
}
