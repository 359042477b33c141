package domain

import "time"

// Candle intervals fetched every cycle.
const (
	Interval1d = "1d"
	Interval1h = "1h"
	Interval1m = "1m"
)

// Kline represents a single candlestick data point.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Interval  string // e.g. "1m", "1h", "1d"
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Closes extracts the close prices of klines in order.
func Closes(klines []*Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// MarketSnapshot holds candles per symbol and interval for one cycle.
type MarketSnapshot map[string]map[string][]*Kline

// HasAll reports whether symbol has non-empty candles for every interval.
func (m MarketSnapshot) HasAll(symbol string, intervals ...string) bool {
	bySymbol, ok := m[symbol]
	if !ok {
		return false
	}
	for _, iv := range intervals {
		if len(bySymbol[iv]) == 0 {
			return false
		}
	}
	return true
}
