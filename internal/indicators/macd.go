package indicators

import (
	"fmt"

	"perpKeeper/internal/domain"
)

// MACDConfig holds the fast, slow and signal EMA periods.
type MACDConfig struct {
	Fast   int
	Slow   int
	Signal int
}

// MACDResult is the latest MACD reading.
type MACDResult struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// MACD implements Moving Average Convergence Divergence.
type MACD struct {
	config MACDConfig
}

// NewMACD creates a MACD indicator, defaulting to 12/26/9.
func NewMACD(config MACDConfig) *MACD {
	if config.Fast <= 0 {
		config.Fast = 12
	}
	if config.Slow <= 0 {
		config.Slow = 26
	}
	if config.Signal <= 0 {
		config.Signal = 9
	}
	return &MACD{config: config}
}

// Name returns the name of the indicator
func (m *MACD) Name() string {
	return "MACD"
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (m *MACD) RequiredDataPoints() int {
	return m.config.Slow + m.config.Signal
}

// Compute returns the latest MACD line, signal and histogram.
func (m *MACD) Compute(klines []*domain.Kline) (MACDResult, error) {
	if len(klines) < m.RequiredDataPoints() {
		return MACDResult{}, fmt.Errorf("%w (%d) to calculate MACD(%d,%d,%d)",
			ErrNotEnoughData, len(klines), m.config.Fast, m.config.Slow, m.config.Signal)
	}
	closes := domain.Closes(klines)
	fast := EMASeries(closes, m.config.Fast)
	slow := EMASeries(closes, m.config.Slow)

	// slow[i] is aligned with closes[Slow-1+i]; shift fast to match.
	offset := m.config.Slow - m.config.Fast
	line := make([]float64, len(slow))
	for i := range slow {
		line[i] = fast[i+offset] - slow[i]
	}

	signal := EMASeries(line, m.config.Signal)
	last := MACDResult{Line: line[len(line)-1], Signal: signal[len(signal)-1]}
	last.Histogram = last.Line - last.Signal
	return last, nil
}
