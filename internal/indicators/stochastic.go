package indicators

import (
	"fmt"

	"perpKeeper/internal/domain"
)

// StochasticConfig configures %K lookback and the two smoothing windows.
type StochasticConfig struct {
	KPeriod int
	SmoothK int
	DPeriod int
}

func (c StochasticConfig) withDefaults() StochasticConfig {
	if c.KPeriod <= 0 {
		c.KPeriod = 14
	}
	if c.SmoothK <= 0 {
		c.SmoothK = 3
	}
	if c.DPeriod <= 0 {
		c.DPeriod = 3
	}
	return c
}

func (c StochasticConfig) required() int {
	return c.KPeriod + max(c.SmoothK, c.DPeriod)
}

// StochasticResult is the latest smoothed %K and %D.
type StochasticResult struct {
	K float64
	D float64
}

// Stochastic implements the slow stochastic oscillator.
type Stochastic struct {
	config StochasticConfig
}

// NewStochastic creates a stochastic oscillator, defaulting to 14/3/3.
func NewStochastic(config StochasticConfig) *Stochastic {
	return &Stochastic{config: config.withDefaults()}
}

// Name returns the name of the indicator
func (s *Stochastic) Name() string {
	return "Stoch"
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (s *Stochastic) RequiredDataPoints() int {
	return s.config.required()
}

// Compute returns the latest %K and %D.
func (s *Stochastic) Compute(klines []*domain.Kline) (StochasticResult, error) {
	if len(klines) < s.config.required() {
		return StochasticResult{}, fmt.Errorf("%w (%d) to calculate Stoch(%d)", ErrNotEnoughData, len(klines), s.config.KPeriod)
	}
	highs, lows, closes := highsLowsCloses(klines)
	return smoothStochastic(highs, lows, closes, s.config)
}

// StochRSIConfig applies a stochastic to the RSI series.
type StochRSIConfig struct {
	RSIPeriod int
	StochasticConfig
}

// StochRSI implements the stochastic RSI oscillator.
type StochRSI struct {
	rsiPeriod int
	config    StochasticConfig
}

// NewStochRSI creates a StochRSI oscillator, defaulting to 14/14/3/3.
func NewStochRSI(config StochRSIConfig) *StochRSI {
	if config.RSIPeriod <= 0 {
		config.RSIPeriod = 14
	}
	return &StochRSI{rsiPeriod: config.RSIPeriod, config: config.StochasticConfig.withDefaults()}
}

// Name returns the name of the indicator
func (s *StochRSI) Name() string {
	return "StochRSI"
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (s *StochRSI) RequiredDataPoints() int {
	return s.rsiPeriod + s.config.required()
}

// Compute returns the latest smoothed %K and %D of the RSI.
func (s *StochRSI) Compute(klines []*domain.Kline) (StochasticResult, error) {
	rsi := RSISeries(domain.Closes(klines), s.rsiPeriod)
	if len(rsi) < s.config.required() {
		return StochasticResult{}, fmt.Errorf("%w (%d) to calculate StochRSI(%d,%d)", ErrNotEnoughData, len(klines), s.rsiPeriod, s.config.KPeriod)
	}
	return smoothStochastic(rsi, rsi, rsi, s.config)
}

func smoothStochastic(highs, lows, closes []float64, c StochasticConfig) (StochasticResult, error) {
	raw := make([]float64, 0, len(closes)-c.KPeriod+1)
	for i := c.KPeriod - 1; i < len(closes); i++ {
		hh, ll := highs[i], lows[i]
		for j := i - c.KPeriod + 1; j <= i; j++ {
			hh = max(hh, highs[j])
			ll = min(ll, lows[j])
		}
		k := 0.0
		if hh != ll {
			k = 100 * (closes[i] - ll) / (hh - ll)
		}
		raw = append(raw, k)
	}

	kSmooth := smoothSMA(raw, c.SmoothK)
	dLine := smoothSMA(kSmooth, c.DPeriod)
	if len(dLine) == 0 {
		return StochasticResult{}, fmt.Errorf("%w for stochastic smoothing", ErrNotEnoughData)
	}
	return StochasticResult{K: kSmooth[len(kSmooth)-1], D: dLine[len(dLine)-1]}, nil
}
