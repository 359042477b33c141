package market

import (
	"context"
	"fmt"
	"strings"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/indicators"
)

// Thresholds are the overbought/oversold bounds of the oscillators.
type Thresholds struct {
	RSI        indicators.Thresholds
	Stochastic indicators.Thresholds
	WilliamsR  indicators.Thresholds
}

// DefaultThresholds returns RSI 70/30, Stochastic 80/20 and Williams -20/-80.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSI:        indicators.Thresholds{Overbought: 70, Oversold: 30},
		Stochastic: indicators.Thresholds{Overbought: 80, Oversold: 20},
		WilliamsR:  indicators.Thresholds{Overbought: -20, Oversold: -80},
	}
}

var emaPeriods = []int{10, 20, 50, 100, 200}

// Summarizer renders a snapshot as compact text.
type Summarizer struct {
	thresholds Thresholds
	rsi        *indicators.RSI
	stoch      *indicators.Stochastic
	stochRSI   *indicators.StochRSI
	willR      *indicators.WilliamsR
	macd       *indicators.MACD
}

// NewSummarizer creates a Summarizer with the standard indicator periods.
func NewSummarizer(t Thresholds) *Summarizer {
	rsi := indicators.NewRSI(indicators.RSIConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: 14},
		Overbought:      t.RSI.Overbought,
		Oversold:        t.RSI.Oversold,
	})
	return &Summarizer{
		thresholds: t,
		rsi:        rsi,
		stoch:      indicators.NewStochastic(indicators.StochasticConfig{KPeriod: 14, SmoothK: 3, DPeriod: 3}),
		stochRSI:   indicators.NewStochRSI(indicators.StochRSIConfig{RSIPeriod: 14, StochasticConfig: indicators.StochasticConfig{KPeriod: 14, SmoothK: 3, DPeriod: 3}}),
		willR:      indicators.NewWilliamsR(indicators.IndicatorConfig{Period: 14}),
		macd:       indicators.NewMACD(indicators.MACDConfig{Fast: 12, Slow: 26, Signal: 9}),
	}
}

// Compress summarizes symbols in order. Indicators that lack history are
// left out of the line rather than reported as zero.
func (s *Summarizer) Compress(ctx context.Context, snap domain.MarketSnapshot, symbols []string) string {
	var b strings.Builder
	for i, symbol := range symbols {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n%s:", symbol)
		for _, iv := range Intervals {
			s.writeInterval(ctx, &b, iv, snap[symbol][iv])
		}
	}
	return b.String()
}

func (s *Summarizer) writeInterval(ctx context.Context, b *strings.Builder, interval string, klines []*domain.Kline) {
	if len(klines) == 0 {
		fmt.Fprintf(b, "\n %s: Нет данных", interval)
		return
	}

	first, last := klines[0], klines[len(klines)-1]
	trend := "down"
	if last.Close > first.Open {
		trend = "up"
	}
	maxHigh, minLow, volume := first.High, first.Low, 0.0
	for _, k := range klines {
		maxHigh = max(maxHigh, k.High)
		minLow = min(minLow, k.Low)
		volume += k.Volume
	}
	fmt.Fprintf(b, "\n %s: %s O:%.4f H:%.4f L:%.4f C:%.4f | MaxH:%.4f MinL:%.4f Vol:%.2f (%d)",
		interval, trend, last.Open, last.High, last.Low, last.Close, maxHigh, minLow, volume/float64(len(klines)), len(klines))

	closes := domain.Closes(klines)
	var emas []string
	for _, p := range emaPeriods {
		if series := indicators.EMASeries(closes, p); len(series) > 0 {
			emas = append(emas, fmt.Sprintf("%d=%.2f", p, series[len(series)-1]))
		}
	}
	if len(emas) > 0 {
		b.WriteString("\n EMA: " + strings.Join(emas, " "))
	}

	if rsi, err := s.rsi.Calculate(ctx, klines); err == nil {
		fmt.Fprintf(b, "\n RSI: %.1f (%s)", rsi, s.rsi.Zone(rsi))
	}

	var osc []string
	if st, err := s.stoch.Compute(klines); err == nil {
		osc = append(osc, fmt.Sprintf("Stoch:%.1f/%.1f(%s)", st.K, st.D, s.thresholds.Stochastic.Classify(st.K)))
	}
	if sr, err := s.stochRSI.Compute(klines); err == nil {
		osc = append(osc, fmt.Sprintf("StochRSI:%.1f/%.1f(%s)", sr.K, sr.D, s.thresholds.Stochastic.Classify(sr.K)))
	}
	if wr, err := s.willR.Calculate(ctx, klines); err == nil {
		osc = append(osc, fmt.Sprintf("WillR:%.1f(%s)", wr, s.thresholds.WilliamsR.Classify(wr)))
	}
	if len(osc) > 0 {
		b.WriteString("\n OB/OS: " + strings.Join(osc, " | "))
	}

	if m, err := s.macd.Compute(klines); err == nil {
		momentum := "bear"
		if m.Histogram > 0 {
			momentum = "bull"
		}
		fmt.Fprintf(b, "\n MACD: %s %.2f Signal:%.2f Hist:%.2f", momentum, m.Line, m.Signal, m.Histogram)
	}
}
