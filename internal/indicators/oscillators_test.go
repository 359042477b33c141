package indicators

import (
	"context"
	"errors"
	"testing"

	"perpKeeper/internal/domain"
)

func rampKlines(n int, start, step float64) []*domain.Kline {
	klines := make([]*domain.Kline, n)
	for i := range klines {
		c := start + float64(i)*step
		klines[i] = &domain.Kline{Open: c - step/2, High: c + 1, Low: c - 1, Close: c}
	}
	return klines
}

func TestATR_Calculate(t *testing.T) {
	// Constant range of 2 with no gaps: every true range is 2.
	klines := rampKlines(20, 100, 0)
	atr := NewATR(ATRConfig{IndicatorConfig{Period: 14}})

	value, err := atr.Calculate(context.Background(), klines)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := value - 2.0; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("Expected ATR 2.0, got %f", value)
	}

	if _, err := atr.Calculate(context.Background(), klines[:14]); !errors.Is(err, ErrNotEnoughData) {
		t.Errorf("Expected ErrNotEnoughData, got %v", err)
	}
	if atr.RequiredDataPoints() != 15 {
		t.Errorf("Expected 15 required points, got %d", atr.RequiredDataPoints())
	}
}

func TestATR_UsesPreviousClose(t *testing.T) {
	klines := []*domain.Kline{
		{High: 101, Low: 99, Close: 100},
		{High: 111, Low: 109, Close: 110}, // gap up: TR = 111-100 = 11
		{High: 112, Low: 110, Close: 111}, // TR = 2
	}
	atr := NewATR(ATRConfig{IndicatorConfig{Period: 2}})
	value, err := atr.Calculate(context.Background(), klines)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := value - 6.5; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("Expected ATR 6.5, got %f", value)
	}
}

func TestMACD_Compute(t *testing.T) {
	macd := NewMACD(MACDConfig{})
	if macd.RequiredDataPoints() != 35 {
		t.Errorf("Expected 35 required points, got %d", macd.RequiredDataPoints())
	}

	if _, err := macd.Compute(rampKlines(30, 100, 1)); !errors.Is(err, ErrNotEnoughData) {
		t.Errorf("Expected ErrNotEnoughData, got %v", err)
	}

	// On a linear ramp both EMAs lag by a constant, so the line is positive,
	// the signal converges to it and the histogram approaches zero.
	result, err := macd.Compute(rampKlines(200, 100, 1))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := result.Line - 7.0; diff > 0.01 || diff < -0.01 {
		t.Errorf("Expected MACD line near 7.0, got %f", result.Line)
	}
	if result.Histogram > 0.01 || result.Histogram < -0.01 {
		t.Errorf("Expected histogram near 0, got %f", result.Histogram)
	}

	flat, err := macd.Compute(rampKlines(60, 100, 0))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if flat.Line != 0 || flat.Signal != 0 {
		t.Errorf("Expected zero MACD on flat prices, got %+v", flat)
	}
}

func TestStochastic_Compute(t *testing.T) {
	stoch := NewStochastic(StochasticConfig{})
	if stoch.RequiredDataPoints() != 17 {
		t.Errorf("Expected 17 required points, got %d", stoch.RequiredDataPoints())
	}
	if _, err := stoch.Compute(rampKlines(16, 100, 1)); !errors.Is(err, ErrNotEnoughData) {
		t.Errorf("Expected ErrNotEnoughData, got %v", err)
	}

	// Rising ramp: close sits one below the window high.
	result, err := stoch.Compute(rampKlines(40, 100, 1))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := 100 * (15.0 - 1) / 15.0
	if diff := result.K - want; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("Expected %%K %f, got %f", want, result.K)
	}
	if diff := result.D - want; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("Expected %%D %f, got %f", want, result.D)
	}
}

func TestStochRSI_Compute(t *testing.T) {
	stochRSI := NewStochRSI(StochRSIConfig{})
	if _, err := stochRSI.Compute(rampKlines(20, 100, 1)); !errors.Is(err, ErrNotEnoughData) {
		t.Errorf("Expected ErrNotEnoughData, got %v", err)
	}

	// A pure ramp has constant RSI, so the range is flat and %K reads 0.
	result, err := stochRSI.Compute(rampKlines(80, 100, 1))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.K != 0 || result.D != 0 {
		t.Errorf("Expected zero StochRSI on constant RSI, got %+v", result)
	}
}

func TestWilliamsR_Calculate(t *testing.T) {
	w := NewWilliamsR(IndicatorConfig{Period: 14})
	klines := rampKlines(14, 100, 1)

	value, err := w.Calculate(context.Background(), klines)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// hh = 114, ll = 99, close = 113
	want := -100 * (114.0 - 113.0) / 15.0
	if diff := value - want; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("Expected %f, got %f", want, value)
	}

	if _, err := w.Calculate(context.Background(), klines[:5]); err == nil {
		t.Error("Expected error but got none")
	}
}

func TestThresholds_Classify(t *testing.T) {
	willr := Thresholds{Overbought: -20, Oversold: -80}
	cases := map[float64]Zone{-10: ZoneOverbought, -20: ZoneOverbought, -50: ZoneNeutral, -90: ZoneOversold}
	for value, want := range cases {
		if got := willr.Classify(value); got != want {
			t.Errorf("Classify(%f) = %s, want %s", value, got, want)
		}
	}
}
